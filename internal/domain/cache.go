package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LedgerCache provides fast reads of filled/spent state for the query
// endpoints. It is a read-through cache over the engine; a miss falls back
// to the engine's in-memory ledger.
type LedgerCache interface {
	SetFilled(ctx context.Context, orderHash common.Hash, filled *big.Int) error
	GetFilled(ctx context.Context, orderHash common.Hash) (*big.Int, error)
	SetSpent(ctx context.Context, tradeHash common.Hash, spent bool) error
	GetSpent(ctx context.Context, tradeHash common.Hash) (bool, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. The settlement loop acquires a
// leader lock so that only one replica mutates the ledger at a time.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub messaging and durable streams for ledger
// events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
