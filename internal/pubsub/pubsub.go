package pubsub

import (
	"context"

	"pricehub/internal/domain"
)

// Cross-process side of price fan-out (the shared cache channel)
type Broadcaster interface {
	Publish(ctx context.Context, tick *domain.PriceTick) error
	Health(ctx context.Context) error
}
