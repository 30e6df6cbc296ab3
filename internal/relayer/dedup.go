package relayer

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Dedup drops resubmissions of trade hashes that already settled within a
// configurable time-to-live window. Only settled hashes are recorded: a
// rejected submission must stay retryable, since a fresh call re-evaluates
// every precondition against current state (a later retry can succeed after
// funding is topped up, for example). The engine's spent-trade check is the
// authoritative guard; dedup just avoids burning a settlement cycle on
// obvious resubmissions. It is safe for concurrent use.
type Dedup struct {
	settled map[common.Hash]time.Time
	ttl     time.Duration
	mu      sync.Mutex
}

// NewDedup creates a Dedup instance that considers a trade hash a duplicate
// if it settled within the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		settled: make(map[common.Hash]time.Time),
		ttl:     ttl,
	}
}

// Seen reports whether the trade hash settled within the TTL window. It
// never records anything.
func (d *Dedup) Seen(tradeHash common.Hash) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts, ok := d.settled[tradeHash]
	return ok && time.Since(ts) < d.ttl
}

// Record marks the trade hash as settled. Call only after the engine
// reported success.
func (d *Dedup) Record(tradeHash common.Hash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.settled[tradeHash] = time.Now()
}

// Cleanup removes entries that have expired beyond the TTL. Call
// periodically to prevent unbounded memory growth.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	for h, ts := range d.settled {
		if now.Sub(ts) >= d.ttl {
			delete(d.settled, h)
		}
	}
}
