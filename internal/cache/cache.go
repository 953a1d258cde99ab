// Package cache holds the read-side caches for computed balances and reports.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Cache is a keyed store of computed results.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, data T)
	Delete(key string)
	// Purge drops every entry. Writers call it after any ledger change.
	Purge()
	Size() int
}

// Cleaner is implemented by caches that expire entries.
type Cleaner interface {
	CleanExpired() int
}

// Manager runs periodic expiry over every registered cache.
type Manager struct {
	mu     sync.Mutex
	caches []Cleaner
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager() *Manager {
	return &Manager{}
}

func (m *Manager) Register(c Cleaner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.caches = append(m.caches, c)
}

// Sweep expires entries in every cache once and returns how many were removed.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	caches := append([]Cleaner(nil), m.caches...)
	m.mu.Unlock()

	n := 0
	for _, c := range caches {
		n += c.CleanExpired()
	}
	return n
}

// StartCleanup sweeps every interval until Stop is called.
func (m *Manager) StartCleanup(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					slog.Debug("Expired cache entries removed", "count", n)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
}
