package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"pricehub/internal/config"
	"pricehub/internal/domain"
	"pricehub/internal/metrics"

	"github.com/nats-io/nats.go"
	"gitlab.com/nevasik7/alerting/logger"
)

// Receives every accepted stream-derived tick
type TickSink interface {
	AcceptTick(tick *domain.PriceTick)
}

// Current quote-currency USD rate, zero when unknown
type RateSource interface {
	Rate() float64
}

// Notified about trade activity so a fallback refresh can be scheduled
type Marker interface {
	Mark(key string)
}

// Consumes the push feed of swap events over NATS, derives a price per
// event and feeds the sink. Subscriptions do not survive reconnection on
// their own, so the reconnect handler re-issues them
type Consumer struct {
	log     logger.Logger
	cfg     config.StreamConfig
	sink    TickSink
	rates   RateSource
	marker  Marker
	skipped map[string]struct{}

	nc  *nats.Conn
	sub *nats.Subscription
}

func New(log logger.Logger, cfg *config.StreamConfig, sink TickSink, rates RateSource, marker Marker, stableMints []string) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("stream config is required")
	}
	if cfg.URL == "" {
		return nil, errors.New("stream url is required")
	}
	if sink == nil || rates == nil {
		return nil, errors.New("sink and rate source are required")
	}

	subject := cfg.Subject
	if subject == "" {
		subject = "swaps.events"
	}

	// the quote currency and pinned stables never need a fallback refresh
	skipped := make(map[string]struct{}, len(stableMints)+1)
	skipped[domain.QuoteMint] = struct{}{}
	if len(stableMints) == 0 {
		stableMints = domain.DefaultStableMints
	}
	for _, m := range stableMints {
		skipped[m] = struct{}{}
	}

	c := &Consumer{
		log:     log,
		cfg:     *cfg,
		sink:    sink,
		rates:   rates,
		marker:  marker,
		skipped: skipped,
	}
	c.cfg.Subject = subject

	return c, nil
}

// Connect dials the feed and subscribes. Reconnection is delegated to the
// client with exponential backoff between attempts; a successful reconnect
// resets the delay
func (c *Consumer) Connect() error {
	base := c.cfg.ReconnectBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	max := c.cfg.ReconnectMax
	if max <= 0 {
		max = 30 * time.Second
	}
	attempts := c.cfg.MaxReconnectAttempts
	if attempts == 0 {
		attempts = 60
	}

	opts := []nats.Option{
		nats.Name("pricehub"),
		nats.Timeout(5 * time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(attempts),
		nats.CustomReconnectDelay(func(attempt int) time.Duration {
			d := base
			for i := 0; i < attempt && d < max; i++ {
				d *= 2
			}
			if d > max {
				d = max
			}
			return d
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.log.Warnf("Stream disconnected, error=%v", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.log.Infof("Stream reconnected to %s, re-issuing subscription", nc.ConnectedUrl())
			if err := c.subscribe(); err != nil {
				c.log.Errorf("Failed to re-subscribe after reconnect, error=%v", err)
			}
		}),
	}

	nc, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	c.nc = nc

	if err = c.subscribe(); err != nil {
		nc.Close()
		return err
	}

	return nil
}

func (c *Consumer) subscribe() error {
	if c.sub != nil {
		_ = c.sub.Unsubscribe()
	}

	sub, err := c.nc.Subscribe(c.cfg.Subject, c.handle)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", c.cfg.Subject, err)
	}

	c.sub = sub
	return nil
}

func (c *Consumer) handle(msg *nats.Msg) {
	var ev domain.SwapEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		c.log.Debugf("Discarding undecodable swap event, error=%v", err)
		metrics.StreamEvents.WithLabelValues("discarded").Inc()
		return
	}

	if c.marker != nil {
		if _, skip := c.skipped[ev.AssetKey]; !skip && ev.AssetKey != "" {
			c.marker.Mark(ev.AssetKey)
		}
	}

	tick, err := DeriveTick(&ev, c.rates.Rate())
	if err != nil {
		c.log.Debugf("Discarding swap event for %s: %v", ev.AssetKey, err)
		metrics.StreamEvents.WithLabelValues("discarded").Inc()
		return
	}

	metrics.StreamEvents.WithLabelValues("accepted").Inc()
	c.sink.AcceptTick(tick)
}

func (c *Consumer) Connected() bool {
	if c.nc == nil {
		return false
	}
	return c.nc.Status() == nats.CONNECTED
}

func (c *Consumer) Close() error {
	if c.nc == nil {
		return nil
	}

	if c.nc.Status() == nats.CLOSED {
		return nil
	}

	if err := c.nc.Drain(); err != nil {
		c.log.Errorf("Failed to drain stream connection, error=%v", err)
		c.nc.Close()
		return fmt.Errorf("failed to drain stream connection: %w", err)
	}

	c.nc.Close()
	c.log.Infof("Stream connection closed gracefully")
	return nil
}
