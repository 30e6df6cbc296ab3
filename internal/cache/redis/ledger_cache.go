package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/tradewire/settled/internal/domain"
)

// LedgerCache implements domain.LedgerCache using plain Redis strings.
// Filled amounts are stored as decimal text at "fill:{orderHash}"; spent
// flags as "1" at "spent:{tradeHash}". Entries have no TTL: ledger state
// never reverts, so stale data is impossible, only missing data.
type LedgerCache struct {
	rdb *redis.Client
}

// NewLedgerCache creates a LedgerCache backed by the given Client.
func NewLedgerCache(c *Client) *LedgerCache {
	return &LedgerCache{rdb: c.Underlying()}
}

func fillKey(orderHash common.Hash) string {
	return "fill:" + orderHash.Hex()
}

func spentKey(tradeHash common.Hash) string {
	return "spent:" + tradeHash.Hex()
}

// SetFilled stores the cumulative filled amount for an order hash.
func (lc *LedgerCache) SetFilled(ctx context.Context, orderHash common.Hash, filled *big.Int) error {
	if err := lc.rdb.Set(ctx, fillKey(orderHash), filled.String(), 0).Err(); err != nil {
		return fmt.Errorf("redis: set filled %s: %w", orderHash.Hex(), err)
	}
	return nil
}

// GetFilled retrieves the cached filled amount for an order hash. It
// returns domain.ErrNotFound on a miss.
func (lc *LedgerCache) GetFilled(ctx context.Context, orderHash common.Hash) (*big.Int, error) {
	val, err := lc.rdb.Get(ctx, fillKey(orderHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get filled %s: %w", orderHash.Hex(), err)
	}
	filled, ok := new(big.Int).SetString(val, 10)
	if !ok {
		return nil, fmt.Errorf("redis: corrupt filled amount %q for %s", val, orderHash.Hex())
	}
	return filled, nil
}

// SetSpent stores the spent flag for a trade hash.
func (lc *LedgerCache) SetSpent(ctx context.Context, tradeHash common.Hash, spent bool) error {
	val := "0"
	if spent {
		val = "1"
	}
	if err := lc.rdb.Set(ctx, spentKey(tradeHash), val, 0).Err(); err != nil {
		return fmt.Errorf("redis: set spent %s: %w", tradeHash.Hex(), err)
	}
	return nil
}

// GetSpent retrieves the cached spent flag for a trade hash. It returns
// domain.ErrNotFound on a miss.
func (lc *LedgerCache) GetSpent(ctx context.Context, tradeHash common.Hash) (bool, error) {
	val, err := lc.rdb.Get(ctx, spentKey(tradeHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, domain.ErrNotFound
		}
		return false, fmt.Errorf("redis: get spent %s: %w", tradeHash.Hex(), err)
	}
	return val == "1", nil
}

// Compile-time interface check.
var _ domain.LedgerCache = (*LedgerCache)(nil)
