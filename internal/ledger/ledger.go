// Package ledger tracks discount code redemptions in process. Each code has one
// counter that only moves through compare-and-swap against its usage limit.
package ledger

import (
	"errors"
	"sync"
	"sync/atomic"
)

var (
	ErrUsageExceeded = errors.New("usage limit reached")
	ErrUnknownCode   = errors.New("code not registered")
)

type counter struct {
	used  atomic.Int64
	limit atomic.Int64
}

type Ledger struct {
	mu    sync.RWMutex
	codes map[string]*counter
}

func New() *Ledger {
	return &Ledger{codes: map[string]*counter{}}
}

// Register starts tracking a code or updates its limit. An existing used count
// is kept, so re-registering never hands out uses twice.
func (l *Ledger) Register(id string, used, limit int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.codes[id]
	if !ok {
		c = &counter{}
		c.used.Store(used)
		l.codes[id] = c
	}
	c.limit.Store(limit)
}

func (l *Ledger) get(id string) (*counter, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.codes[id]
	if !ok {
		return nil, ErrUnknownCode
	}
	return c, nil
}

// Redeem consumes one use and returns the new used count.
func (l *Ledger) Redeem(id string) (int64, error) {
	c, err := l.get(id)
	if err != nil {
		return 0, err
	}
	for {
		used := c.used.Load()
		if used >= c.limit.Load() {
			return used, ErrUsageExceeded
		}
		if c.used.CompareAndSwap(used, used+1) {
			return used + 1, nil
		}
	}
}

// Release gives back a use taken by Redeem when the order it was taken for
// could not be stored.
func (l *Ledger) Release(id string) {
	c, err := l.get(id)
	if err != nil {
		return
	}
	for {
		used := c.used.Load()
		if used <= 0 {
			return
		}
		if c.used.CompareAndSwap(used, used-1) {
			return
		}
	}
}

func (l *Ledger) Used(id string) int64 {
	c, err := l.get(id)
	if err != nil {
		return 0
	}
	return c.used.Load()
}
