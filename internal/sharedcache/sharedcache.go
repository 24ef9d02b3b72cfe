package sharedcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pricehub/internal/domain"
	rdb "pricehub/internal/stores/redis"

	goredis "github.com/redis/go-redis/v9"
	"gitlab.com/nevasik7/alerting/logger"
)

const (
	keyPrefix = "price:"
	channel   = "prices"
)

// Cross-process tick cache over Redis: TTL'd JSON entries plus a pub/sub
// channel broadcast on every accepted write, so multiple engine instances
// converge on the same price view
type Cache struct {
	log logger.Logger
	rdb *rdb.Client
	ttl time.Duration
}

func New(log logger.Logger, rdb *rdb.Client, ttl time.Duration) (*Cache, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required to the shared cache")
	}

	if ttl <= 0 {
		ttl = time.Minute
	}

	return &Cache{
		log: log,
		rdb: rdb,
		ttl: ttl,
	}, nil
}

// PutTick writes the entry with the fixed TTL and broadcasts it on the
// prices channel. A publish failure does not fail the write
func (c *Cache) PutTick(ctx context.Context, tick *domain.PriceTick) error {
	payload, err := json.Marshal(tick)
	if err != nil {
		return fmt.Errorf("marshal tick %s: %w", tick.Key, err)
	}

	if err = c.rdb.Set(ctx, keyPrefix+tick.Key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", tick.Key, err)
	}

	if err = c.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		c.log.Errorf("Failed to publish tick %s, error=%v", tick.Key, err)
	}

	return nil
}

func (c *Cache) GetTick(ctx context.Context, key string) (*domain.PriceTick, bool, error) {
	payload, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis GET %s: %w", key, err)
	}

	var tick domain.PriceTick
	if err = json.Unmarshal(payload, &tick); err != nil {
		return nil, false, fmt.Errorf("unmarshal tick %s: %w", key, err)
	}

	return &tick, true, nil
}

// GetTicks resolves many keys in a single MGET. Absent or unreadable
// entries are missing from the result, never errors
func (c *Cache) GetTicks(ctx context.Context, keys []string) (map[string]*domain.PriceTick, error) {
	if len(keys) == 0 {
		return map[string]*domain.PriceTick{}, nil
	}

	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = keyPrefix + key
	}

	values, err := c.rdb.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis MGET: %w", err)
	}

	out := make(map[string]*domain.PriceTick, len(keys))
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			continue
		}

		var tick domain.PriceTick
		if err = json.Unmarshal([]byte(s), &tick); err != nil {
			c.log.Errorf("Failed to unmarshal shared tick %s, error=%v", keys[i], err)
			continue
		}
		out[keys[i]] = &tick
	}

	return out, nil
}

// Listen delivers ticks broadcast by any engine instance until ctx is done
func (c *Cache) Listen(ctx context.Context, fn func(*domain.PriceTick)) error {
	sub := c.rdb.Subscribe(ctx, channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}

			var tick domain.PriceTick
			if err := json.Unmarshal([]byte(msg.Payload), &tick); err != nil {
				c.log.Errorf("Failed to unmarshal broadcast tick, error=%v", err)
				continue
			}
			fn(&tick)
		}
	}
}

func (c *Cache) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
