package util

import (
	"context"
	"sync"
	"time"
)

// LocalDeduper is the in-process counterpart of Deduper for single-instance
// runs without Redis.
type LocalDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

func NewLocalDeduper(ttl time.Duration) *LocalDeduper {
	return &LocalDeduper{ttl: ttl, now: time.Now, seen: make(map[string]time.Time)}
}

func (d *LocalDeduper) AcquireOnce(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.seen[key]; ok && now.Before(exp) {
		return false
	}
	// 顺便清理过期 key
	for k, exp := range d.seen {
		if !now.Before(exp) {
			delete(d.seen, k)
		}
	}
	d.seen[key] = now.Add(d.ttl)
	return true
}

func (d *LocalDeduper) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}
