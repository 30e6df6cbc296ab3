package postgres

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewire/settled/internal/domain"
)

// LedgerStore implements domain.LedgerStore using PostgreSQL. Hashes are
// stored as lowercase 0x-prefixed hex; amounts as decimal text, which keeps
// 256-bit values exact without depending on NUMERIC scanning.
type LedgerStore struct {
	pool *pgxpool.Pool
}

// NewLedgerStore creates a LedgerStore backed by the given connection pool.
func NewLedgerStore(pool *pgxpool.Pool) *LedgerStore {
	return &LedgerStore{pool: pool}
}

// SaveFill upserts the cumulative fill for an order hash. The engine only
// ever writes monotonically increasing values, so last-write-wins is safe.
func (s *LedgerStore) SaveFill(ctx context.Context, orderHash common.Hash, filled *big.Int) error {
	const query = `
		INSERT INTO order_fills (order_hash, filled, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (order_hash) DO UPDATE
		SET filled = EXCLUDED.filled, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, orderHash.Hex(), filled.String()); err != nil {
		return fmt.Errorf("postgres: save fill %s: %w", orderHash.Hex(), err)
	}
	return nil
}

// MarkSpent records a spent trade hash. Re-marking is a no-op.
func (s *LedgerStore) MarkSpent(ctx context.Context, tradeHash common.Hash) error {
	const query = `
		INSERT INTO trades_spent (trade_hash)
		VALUES ($1)
		ON CONFLICT (trade_hash) DO NOTHING`

	if _, err := s.pool.Exec(ctx, query, tradeHash.Hex()); err != nil {
		return fmt.Errorf("postgres: mark spent %s: %w", tradeHash.Hex(), err)
	}
	return nil
}

// Load reads the full ledger snapshot for startup hydration.
func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerState, error) {
	state := domain.LedgerState{
		Fills: make(map[common.Hash]*big.Int),
		Spent: make(map[common.Hash]bool),
	}

	rows, err := s.pool.Query(ctx, "SELECT order_hash, filled FROM order_fills")
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("postgres: load fills: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var hashHex, filledStr string
		if err := rows.Scan(&hashHex, &filledStr); err != nil {
			return domain.LedgerState{}, fmt.Errorf("postgres: scan fill row: %w", err)
		}
		filled, ok := new(big.Int).SetString(filledStr, 10)
		if !ok {
			return domain.LedgerState{}, fmt.Errorf("postgres: corrupt fill amount %q for %s", filledStr, hashHex)
		}
		state.Fills[common.HexToHash(hashHex)] = filled
	}
	if err := rows.Err(); err != nil {
		return domain.LedgerState{}, fmt.Errorf("postgres: load fills: %w", err)
	}

	spentRows, err := s.pool.Query(ctx, "SELECT trade_hash FROM trades_spent")
	if err != nil {
		return domain.LedgerState{}, fmt.Errorf("postgres: load spent trades: %w", err)
	}
	defer spentRows.Close()

	for spentRows.Next() {
		var hashHex string
		if err := spentRows.Scan(&hashHex); err != nil {
			return domain.LedgerState{}, fmt.Errorf("postgres: scan spent row: %w", err)
		}
		state.Spent[common.HexToHash(hashHex)] = true
	}
	if err := spentRows.Err(); err != nil {
		return domain.LedgerState{}, fmt.Errorf("postgres: load spent trades: %w", err)
	}

	return state, nil
}

// Compile-time interface check.
var _ domain.LedgerStore = (*LedgerStore)(nil)
