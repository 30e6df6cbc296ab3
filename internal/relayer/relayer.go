// Package relayer feeds signed submissions into the settlement engine: it
// deduplicates by trade hash, executes each submission independently, and
// carries on past rejections so one bad trade never blocks a batch.
package relayer

import (
	"context"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/settled/internal/crypto"
	"github.com/tradewire/settled/internal/domain"
)

// Settler is the engine-side interface the relayer drives.
type Settler interface {
	ExecuteTrade(ctx context.Context, sub domain.Submission) domain.Result
}

// ItemResult is the per-submission outcome of a batch.
type ItemResult struct {
	Index     int           `json:"index"`
	OrderHash common.Hash   `json:"-"`
	TradeHash common.Hash   `json:"-"`
	Duplicate bool          `json:"duplicate,omitempty"`
	Result    domain.Result `json:"result"`
}

// Relayer executes submissions against a Settler, either as explicit
// batches or from a channel in its Run loop.
type Relayer struct {
	settler Settler
	subCh   <-chan domain.Submission
	dedup   *Dedup
	logger  *slog.Logger

	cleanupInterval time.Duration
}

// New creates a Relayer. subCh may be nil when the relayer is only used for
// explicit batches.
func New(settler Settler, subCh <-chan domain.Submission, logger *slog.Logger) *Relayer {
	return &Relayer{
		settler:         settler,
		subCh:           subCh,
		dedup:           NewDedup(2 * time.Minute),
		logger:          logger.With(slog.String("component", "relayer")),
		cleanupInterval: 30 * time.Second,
	}
}

// ExecuteBatch runs every submission in order and returns one result per
// item. A rejected or duplicate item never stops the rest of the batch.
func (r *Relayer) ExecuteBatch(ctx context.Context, subs []domain.Submission) []ItemResult {
	results := make([]ItemResult, 0, len(subs))
	for i, sub := range subs {
		item := ItemResult{
			Index:     i,
			OrderHash: sub.Trade.OrderHash,
			TradeHash: crypto.TradeHash(sub.Trade),
		}

		// Only hashes that already settled are deduplicated; a previously
		// rejected hash goes back to the engine so its preconditions are
		// re-evaluated against current state.
		if r.dedup.Seen(item.TradeHash) {
			item.Duplicate = true
			item.Result = domain.Rejected(domain.ReasonTradeSpent)
			r.logger.Debug("batch item deduplicated",
				slog.Int("index", i),
				slog.String("trade_hash", item.TradeHash.Hex()),
			)
			results = append(results, item)
			continue
		}

		item.Result = r.settler.ExecuteTrade(ctx, sub)
		if item.Result.OK {
			r.dedup.Record(item.TradeHash)
		} else {
			r.logger.Debug("batch item rejected",
				slog.Int("index", i),
				slog.String("reason", string(item.Result.Reason)),
			)
		}
		results = append(results, item)
	}
	return results
}

// Run consumes submissions from the channel until the context is cancelled,
// then drains whatever is already buffered before returning. With a nil
// channel it still runs the periodic dedup cleanup, which batch submissions
// feed directly.
func (r *Relayer) Run(ctx context.Context) error {
	r.logger.Info("relayer started")
	defer r.logger.Info("relayer stopped")

	cleanupTicker := time.NewTicker(r.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drain()
			return ctx.Err()

		case sub, ok := <-r.subCh:
			if !ok {
				return nil
			}
			r.process(ctx, sub)

		case <-cleanupTicker.C:
			r.dedup.Cleanup()
		}
	}
}

func (r *Relayer) process(ctx context.Context, sub domain.Submission) {
	tradeHash := crypto.TradeHash(sub.Trade)
	log := r.logger.With(slog.String("trade_hash", tradeHash.Hex()))

	if r.dedup.Seen(tradeHash) {
		log.Debug("submission deduplicated, skipping")
		return
	}

	res := r.settler.ExecuteTrade(ctx, sub)
	if !res.OK {
		log.Warn("submission rejected", slog.String("reason", string(res.Reason)))
		return
	}
	r.dedup.Record(tradeHash)
	log.Info("submission settled")
}

// drain processes submissions already buffered in the channel after context
// cancellation, so in-flight work is not silently dropped.
func (r *Relayer) drain() {
	for {
		select {
		case sub, ok := <-r.subCh:
			if !ok {
				return
			}
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			r.process(drainCtx, sub)
			cancel()
		default:
			return
		}
	}
}

// SetDedupTTL replaces the dedup instance with a new one using the given
// TTL. Useful for tests and runtime reconfiguration.
func (r *Relayer) SetDedupTTL(ttl time.Duration) {
	r.dedup = NewDedup(ttl)
}
