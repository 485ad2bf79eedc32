package telegram

import (
	"sync"
	"time"
)

// Dedup remembers update IDs for ttl. Telegram redelivers an update until the
// webhook answers 2xx, so a slow reply can produce the same update twice.
type Dedup struct {
	mu   sync.Mutex
	seen map[int]time.Time
	ttl  time.Duration
	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

func NewDedup(ttl time.Duration) *Dedup {
	d := &Dedup{
		seen: make(map[int]time.Time),
		ttl:  ttl,
		now:  time.Now,
		stop: make(chan struct{}),
	}
	go d.cleanup()
	return d
}

// IsDuplicate returns true if this update_id was seen within the ttl.
func (d *Dedup) IsDuplicate(updateID int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if at, ok := d.seen[updateID]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[updateID] = now
	return false
}

func (d *Dedup) Close() {
	d.once.Do(func() { close(d.stop) })
}

func (d *Dedup) cleanup() {
	ticker := time.NewTicker(d.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
		}
		d.mu.Lock()
		cutoff := d.now().Add(-d.ttl)
		for id, t := range d.seen {
			if t.Before(cutoff) {
				delete(d.seen, id)
			}
		}
		d.mu.Unlock()
	}
}
