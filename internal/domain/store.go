package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// LedgerState is a snapshot of the persistent fill ledger: cumulative fill
// per order hash and the spent flag per trade hash.
type LedgerState struct {
	Fills map[common.Hash]*big.Int
	Spent map[common.Hash]bool
}

// LedgerStore persists the fill ledger. The engine writes through on every
// successful settlement or cancellation and hydrates from Load at startup.
type LedgerStore interface {
	SaveFill(ctx context.Context, orderHash common.Hash, filled *big.Int) error
	MarkSpent(ctx context.Context, tradeHash common.Hash) error
	Load(ctx context.Context) (LedgerState, error)
}

// JournalKind distinguishes the mutation types recorded in the journal.
type JournalKind string

const (
	JournalSettlement  JournalKind = "settlement"
	JournalOrderCancel JournalKind = "order_cancel"
	JournalTradeCancel JournalKind = "trade_cancel"
)

// JournalEntry is one append-only record of a ledger mutation. Settlements
// carry the full transfer breakdown; cancellations carry the hashes and the
// acting party.
type JournalEntry struct {
	ID          string
	Kind        JournalKind
	OrderHash   common.Hash
	TradeHash   common.Hash
	Maker       common.Address
	Taker       common.Address
	Amount      *big.Int // fill amount in AmountBuy units (settlements only)
	SellAmount  *big.Int
	FeeMake     *big.Int
	FeeTake     *big.Int
	BlockHeight uint64
	CreatedAt   time.Time
}

// JournalStore persists the append-only settlement journal.
type JournalStore interface {
	Append(ctx context.Context, entry JournalEntry) error
	List(ctx context.Context, opts ListOpts) ([]JournalEntry, error)
	ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]JournalEntry, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
