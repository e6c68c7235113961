package vehiclelink

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Dedup remembers recently seen messages so retransmissions are dropped.
// A nil Dedup remembers nothing.
type Dedup struct {
	mu    sync.Mutex
	cache *expirable.LRU[string, struct{}]
}

func NewDedup(size int, ttl time.Duration) *Dedup {
	return &Dedup{cache: expirable.NewLRU[string, struct{}](size, nil, ttl)}
}

// Seen records the message and reports whether it was seen before.
func (d *Dedup) Seen(from, id string) bool {
	if d == nil || id == "" {
		return false
	}
	key := from + "/" + id

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cache.Contains(key) {
		return true
	}
	d.cache.Add(key, struct{}{})
	return false
}
