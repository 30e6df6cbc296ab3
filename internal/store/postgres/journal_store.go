package postgres

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewire/settled/internal/domain"
)

// JournalStore implements domain.JournalStore using PostgreSQL.
type JournalStore struct {
	pool *pgxpool.Pool
}

// NewJournalStore creates a JournalStore backed by the given connection pool.
func NewJournalStore(pool *pgxpool.Pool) *JournalStore {
	return &JournalStore{pool: pool}
}

const journalSelectCols = `id, kind, order_hash, trade_hash, maker, taker,
	amount, sell_amount, fee_make, fee_take, block_height, created_at`

// Append writes one journal entry. Entries are immutable; a duplicate ID is
// an error.
func (s *JournalStore) Append(ctx context.Context, entry domain.JournalEntry) error {
	const query = `
		INSERT INTO journal (
			id, kind, order_hash, trade_hash, maker, taker,
			amount, sell_amount, fee_make, fee_take,
			block_height, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12
		)`

	_, err := s.pool.Exec(ctx, query,
		entry.ID, string(entry.Kind),
		entry.OrderHash.Hex(), nullableHash(entry.TradeHash),
		nullableAddr(entry.Maker), nullableAddr(entry.Taker),
		nullableAmount(entry.Amount), nullableAmount(entry.SellAmount),
		nullableAmount(entry.FeeMake), nullableAmount(entry.FeeTake),
		int64(entry.BlockHeight), entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append journal entry %s: %w", entry.ID, err)
	}
	return nil
}

// List returns journal entries newest first, with pagination and optional
// time filtering.
func (s *JournalStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.JournalEntry, error) {
	query := `SELECT ` + journalSelectCols + ` FROM journal WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal: %w", err)
	}
	defer rows.Close()

	entries, err := scanJournalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan journal: %w", err)
	}
	return entries, nil
}

// ListBefore returns entries created strictly before the cutoff, oldest
// first, for archival.
func (s *JournalStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.JournalEntry, error) {
	query := `SELECT ` + journalSelectCols + ` FROM journal WHERE created_at < $1 ORDER BY created_at ASC`
	args := []any{cutoff}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list journal before: %w", err)
	}
	defer rows.Close()

	entries, err := scanJournalRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan journal before: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes entries created before the cutoff and returns the
// number deleted. Called only after a successful archive upload.
func (s *JournalStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM journal WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete journal before: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJournalRows(rows pgx.Rows) ([]domain.JournalEntry, error) {
	var entries []domain.JournalEntry
	for rows.Next() {
		var (
			e                 domain.JournalEntry
			kind              string
			orderHash         string
			tradeHash         *string
			maker, taker      *string
			amount, sellAmt   *string
			feeMake, feeTake  *string
			blockHeight       int64
		)
		if err := rows.Scan(
			&e.ID, &kind, &orderHash, &tradeHash, &maker, &taker,
			&amount, &sellAmt, &feeMake, &feeTake,
			&blockHeight, &e.CreatedAt,
		); err != nil {
			return nil, err
		}

		e.Kind = domain.JournalKind(kind)
		e.OrderHash = common.HexToHash(orderHash)
		e.BlockHeight = uint64(blockHeight)
		if tradeHash != nil {
			e.TradeHash = common.HexToHash(*tradeHash)
		}
		if maker != nil {
			e.Maker = common.HexToAddress(*maker)
		}
		if taker != nil {
			e.Taker = common.HexToAddress(*taker)
		}
		var err error
		if e.Amount, err = parseAmount(amount); err != nil {
			return nil, err
		}
		if e.SellAmount, err = parseAmount(sellAmt); err != nil {
			return nil, err
		}
		if e.FeeMake, err = parseAmount(feeMake); err != nil {
			return nil, err
		}
		if e.FeeTake, err = parseAmount(feeTake); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableHash(h common.Hash) *string {
	if h == (common.Hash{}) {
		return nil
	}
	s := h.Hex()
	return &s
}

func nullableAddr(a common.Address) *string {
	if a == (common.Address{}) {
		return nil
	}
	s := a.Hex()
	return &s
}

func nullableAmount(n *big.Int) *string {
	if n == nil {
		return nil
	}
	s := n.String()
	return &s
}

func parseAmount(s *string) (*big.Int, error) {
	if s == nil {
		return nil, nil
	}
	n, ok := new(big.Int).SetString(*s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: corrupt amount %q", *s)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.JournalStore = (*JournalStore)(nil)
