package pubsub

import (
	"sync"

	"pricehub/internal/domain"
)

// In-process subscriber registry. Callbacks fire synchronously on every
// accepted tick; the returned handle removes exactly one subscription and
// is safe to call more than once
type Fanout struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(*domain.PriceTick)
}

func NewFanout() *Fanout {
	return &Fanout{subs: make(map[uint64]func(*domain.PriceTick))}
}

func (f *Fanout) Subscribe(fn func(*domain.PriceTick)) (unsubscribe func()) {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}

func (f *Fanout) Notify(tick *domain.PriceTick) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, fn := range f.subs {
		fn(tick)
	}
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
