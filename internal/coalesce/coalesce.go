package coalesce

import (
	"pricehub/internal/domain"

	"golang.org/x/sync/singleflight"
)

// Deduplicates concurrent fetches for the same key into one in-flight
// producer call. The in-flight entry is removed exactly once, when the
// producer settles, regardless of how many callers were waiting
type Group struct {
	sf singleflight.Group
}

func New() *Group {
	return &Group{}
}

// Fetch returns the producer's result, sharing one outstanding call per key.
// A nil tick with a nil error means "no data" and is shared like any result
func (g *Group) Fetch(key string, producer func() (*domain.PriceTick, error)) (*domain.PriceTick, error) {
	v, err, _ := g.sf.Do(key, func() (any, error) {
		return producer()
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}

	tick, _ := v.(*domain.PriceTick)
	return tick, nil
}
