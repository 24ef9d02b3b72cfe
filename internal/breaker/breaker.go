package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pricehub/internal/config"
	"pricehub/internal/metrics"

	"gitlab.com/nevasik7/alerting/logger"
)

// Call short-circuited because the breaker is open
var ErrOpen = errors.New("circuit breaker open")

type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// Failure that is a business outcome, not a provider fault (empty-result
// responses, timeouts on inherently-optional calls). Propagates to the
// caller without moving the failure counter
type expectedError struct {
	err error
}

func (e *expectedError) Error() string { return e.err.Error() }
func (e *expectedError) Unwrap() error { return e.err }

// Expected marks err as a recognized outcome for breaker accounting
func Expected(err error) error {
	if err == nil {
		return nil
	}
	return &expectedError{err: err}
}

func IsExpected(err error) bool {
	var ee *expectedError
	return errors.As(err, &ee)
}

// Per-provider failure-counting state machine. N consecutive unexpected
// failures open the breaker; after the cooldown one trial call is let
// through and decides between closing and re-opening
type Breaker struct {
	log       logger.Logger
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

func New(log logger.Logger, name string, cfg *config.BreakerConfig) (*Breaker, error) {
	if cfg == nil {
		return nil, errors.New("breaker config is required")
	}

	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = 5
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = time.Minute
	}

	return &Breaker{
		log:       log,
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		state:     Closed,
	}, nil
}

func (b *Breaker) Name() string { return b.name }

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op under the breaker protocol. The operation itself runs
// outside the lock; only state accounting is guarded
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if err := b.before(); err != nil {
		return err
	}

	err := op(ctx)
	b.after(err)
	return err
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != Open {
		return nil
	}

	if time.Since(b.openedAt) < b.cooldown {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}

	b.state = HalfOpen
	metrics.BreakerTransitions.WithLabelValues(b.name).Inc()
	b.log.Infof("Breaker %s: cooldown elapsed, half-open trial", b.name)
	return nil
}

func (b *Breaker) after(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state == HalfOpen {
			metrics.BreakerTransitions.WithLabelValues(b.name).Inc()
			b.log.Infof("Breaker %s: trial succeeded, closing", b.name)
		}
		b.state = Closed
		b.failures = 0
		return
	}

	if IsExpected(err) {
		// "no data" is not a provider fault; a half-open trial that reaches
		// the provider and gets an answer counts as recovery
		if b.state == HalfOpen {
			b.state = Closed
			b.failures = 0
		}
		return
	}

	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = time.Now()
		metrics.BreakerTransitions.WithLabelValues(b.name).Inc()
		b.log.Warnf("Breaker %s: trial failed, re-opening for %s", b.name, b.cooldown)
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = Open
		b.openedAt = time.Now()
		metrics.BreakerTransitions.WithLabelValues(b.name).Inc()
		b.log.Warnf("Breaker %s: %d consecutive failures, opening for %s", b.name, b.failures, b.cooldown)
	}
}
