package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/settled/internal/domain"
)

// QueryHandler serves read-only ledger state: fill totals, spent flags, and
// the journal. Reads go through the ledger cache when one is attached; a
// miss falls back to the engine's in-memory ledger.
type QueryHandler struct {
	engine  SettlementEngine
	cache   domain.LedgerCache  // optional
	journal domain.JournalStore // optional
	logger  *slog.Logger
}

// NewQueryHandler creates a QueryHandler. cache and journal may be nil.
func NewQueryHandler(engine SettlementEngine, cache domain.LedgerCache, journal domain.JournalStore, logger *slog.Logger) *QueryHandler {
	return &QueryHandler{
		engine:  engine,
		cache:   cache,
		journal: journal,
		logger:  logHandler(logger, "query"),
	}
}

// GetFilled returns the cumulative filled amount for an order hash. Unknown
// hashes are implicitly zero, never 404.
// GET /v1/orders/{hash}/filled
func (h *QueryHandler) GetFilled(w http.ResponseWriter, r *http.Request) {
	orderHash, err := parseHash("hash", pathParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.cache != nil {
		filled, cacheErr := h.cache.GetFilled(r.Context(), orderHash)
		if cacheErr == nil {
			writeJSON(w, http.StatusOK, map[string]string{
				"order_hash": orderHash.Hex(),
				"filled":     filled.String(),
			})
			return
		}
		if !errors.Is(cacheErr, domain.ErrNotFound) {
			h.logger.Warn("cache get filled failed", slog.String("error", cacheErr.Error()))
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"order_hash": orderHash.Hex(),
		"filled":     h.engine.Filled(orderHash).String(),
	})
}

// GetTraded reports whether a trade hash has been settled or cancelled.
// GET /v1/trades/{hash}
func (h *QueryHandler) GetTraded(w http.ResponseWriter, r *http.Request) {
	tradeHash, err := parseHash("hash", pathParam(r, "hash"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.cache != nil {
		spent, cacheErr := h.cache.GetSpent(r.Context(), tradeHash)
		if cacheErr == nil {
			writeJSON(w, http.StatusOK, map[string]any{
				"trade_hash": tradeHash.Hex(),
				"traded":     spent,
			})
			return
		}
		if !errors.Is(cacheErr, domain.ErrNotFound) {
			h.logger.Warn("cache get spent failed", slog.String("error", cacheErr.Error()))
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"trade_hash": tradeHash.Hex(),
		"traded":     h.engine.Traded(tradeHash),
	})
}

// journalItem is the JSON rendering of a journal entry.
type journalItem struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	OrderHash   string    `json:"order_hash"`
	TradeHash   string    `json:"trade_hash,omitempty"`
	Maker       string    `json:"maker,omitempty"`
	Taker       string    `json:"taker,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	SellAmount  string    `json:"sell_amount,omitempty"`
	FeeMake     string    `json:"fee_make,omitempty"`
	FeeTake     string    `json:"fee_take,omitempty"`
	BlockHeight uint64    `json:"block_height"`
	CreatedAt   time.Time `json:"created_at"`
}

// ListJournal returns journal entries, newest first, with pagination and
// optional since/until RFC 3339 time filters.
// GET /v1/journal
func (h *QueryHandler) ListJournal(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		writeError(w, http.StatusNotFound, "journal not configured")
		return
	}

	opts := parseListOpts(r)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since: invalid RFC 3339 timestamp")
			return
		}
		opts.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "until: invalid RFC 3339 timestamp")
			return
		}
		opts.Until = &t
	}

	entries, err := h.journal.List(r.Context(), opts)
	if err != nil {
		h.logger.Error("journal list failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "journal query failed")
		return
	}

	items := make([]journalItem, 0, len(entries))
	for _, e := range entries {
		item := journalItem{
			ID:          e.ID,
			Kind:        string(e.Kind),
			OrderHash:   e.OrderHash.Hex(),
			BlockHeight: e.BlockHeight,
			CreatedAt:   e.CreatedAt,
		}
		if e.TradeHash != (common.Hash{}) {
			item.TradeHash = e.TradeHash.Hex()
		}
		if e.Maker != (common.Address{}) {
			item.Maker = e.Maker.Hex()
		}
		if e.Taker != (common.Address{}) {
			item.Taker = e.Taker.Hex()
		}
		if e.Amount != nil {
			item.Amount = e.Amount.String()
		}
		if e.SellAmount != nil {
			item.SellAmount = e.SellAmount.String()
		}
		if e.FeeMake != nil {
			item.FeeMake = e.FeeMake.String()
		}
		if e.FeeTake != nil {
			item.FeeTake = e.FeeTake.String()
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": items,
		"count":   len(items),
	})
}
