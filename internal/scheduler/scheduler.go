package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"pricehub/internal/config"

	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/time/rate"
)

// Executes one background refresh; failures are the scheduler's to log,
// never to re-raise
type RefreshFunc func(ctx context.Context, key string) error

// Rate-limited work queue of keys seen in trade events but not recently
// priced. Marking is cheap and deduplicated; draining respects downstream
// provider rate limits via a token-bucket limiter
type Queue struct {
	log         logger.Logger
	refresh     RefreshFunc
	minInterval time.Duration
	limiter     *rate.Limiter

	mu            sync.Mutex
	pending       []string
	pendingSet    map[string]struct{}
	lastRefreshed map[string]time.Time

	wake   chan struct{}
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(log logger.Logger, cfg *config.RefreshConfig, refresh RefreshFunc) (*Queue, error) {
	if cfg == nil {
		return nil, errors.New("refresh config is required to the scheduler")
	}
	if refresh == nil {
		return nil, errors.New("refresh func is required to the scheduler")
	}

	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = 5 * time.Second
	}

	drainPerSec := cfg.DrainPerSec
	if drainPerSec <= 0 {
		drainPerSec = 1
	}

	return &Queue{
		log:           log,
		refresh:       refresh,
		minInterval:   minInterval,
		limiter:       rate.NewLimiter(rate.Limit(drainPerSec), 1),
		pendingSet:    make(map[string]struct{}),
		lastRefreshed: make(map[string]time.Time),
		wake:          make(chan struct{}, 1),
		stopCh:        make(chan struct{}),
	}, nil
}

// Mark enqueues key for a background refresh unless one ran (or was
// enqueued) within the minimum interval
func (q *Queue) Mark(key string) {
	now := time.Now()

	q.mu.Lock()
	if _, queued := q.pendingSet[key]; queued {
		q.mu.Unlock()
		return
	}
	if last, ok := q.lastRefreshed[key]; ok && now.Sub(last) < q.minInterval {
		q.mu.Unlock()
		return
	}

	q.pending = append(q.pending, key)
	q.pendingSet[key] = struct{}{}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *Queue) Start() {
	q.wg.Add(1)
	go q.drain()
}

func (q *Queue) Stop() {
	close(q.stopCh)
	q.wg.Wait()
}

// drain pulls keys at the configured rate as long as the queue is
// non-empty, then idles until the next Mark. One key's failure never stops
// the loop
func (q *Queue) drain() {
	defer q.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-q.stopCh
		cancel()
	}()

	for {
		key, ok := q.pop()
		if !ok {
			select {
			case <-q.stopCh:
				return
			case <-q.wake:
				continue
			}
		}

		if err := q.limiter.Wait(ctx); err != nil {
			return
		}

		refreshCtx, cancelRefresh := context.WithTimeout(ctx, 15*time.Second)
		if err := q.refresh(refreshCtx, key); err != nil {
			q.log.Debugf("Background refresh for %s failed, error=%v", key, err)
		}
		cancelRefresh()
	}
}

func (q *Queue) pop() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return "", false
	}

	key := q.pending[0]
	q.pending = q.pending[1:]
	delete(q.pendingSet, key)
	q.lastRefreshed[key] = time.Now()
	return key, true
}

// Backlog is the number of keys awaiting refresh, for stats
func (q *Queue) Backlog() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}
