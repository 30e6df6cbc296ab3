package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/settled/internal/crypto"
	"github.com/tradewire/settled/internal/domain"
)

// SettlementEngine is the engine surface the HTTP handlers drive.
type SettlementEngine interface {
	ExecuteTrade(ctx context.Context, sub domain.Submission) domain.Result
	Probe(ctx context.Context, sub domain.Submission) domain.Result
	CancelOrder(ctx context.Context, order domain.Order, sig domain.Signature, caller common.Address) domain.Result
	CancelTrade(ctx context.Context, orderHash common.Hash, amount *big.Int, tradeNonce uint64, taker common.Address, sig domain.Signature, caller common.Address) domain.Result
	Filled(orderHash common.Hash) *big.Int
	Traded(tradeHash common.Hash) bool
	Address() common.Address
}

// SettleHandler serves trade execution and dry-run probes. Rejections are
// part of the protocol, so they come back as 200 responses with ok=false;
// only malformed requests produce 4xx.
type SettleHandler struct {
	engine SettlementEngine
	logger *slog.Logger
}

// NewSettleHandler creates a SettleHandler.
func NewSettleHandler(engine SettlementEngine, logger *slog.Logger) *SettleHandler {
	return &SettleHandler{
		engine: engine,
		logger: logHandler(logger, "settle"),
	}
}

// Execute settles one signed submission.
// POST /v1/trades/execute
func (h *SettleHandler) Execute(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}

	res := h.engine.ExecuteTrade(r.Context(), sub)
	orderHash := crypto.OrderHash(h.engine.Address(), sub.Order)
	tradeHash := crypto.TradeHash(sub.Trade)

	var filled *big.Int
	if res.OK {
		filled = h.engine.Filled(orderHash)
	}

	writeJSON(w, http.StatusOK, newResultResponse(res, orderHash, tradeHash, filled))
}

// Probe answers whether the submission would settle right now, without
// mutating anything.
// POST /v1/trades/probe
func (h *SettleHandler) Probe(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.decodeSubmission(w, r)
	if !ok {
		return
	}

	res := h.engine.Probe(r.Context(), sub)
	orderHash := crypto.OrderHash(h.engine.Address(), sub.Order)
	tradeHash := crypto.TradeHash(sub.Trade)

	writeJSON(w, http.StatusOK, newResultResponse(res, orderHash, tradeHash, nil))
}

func (h *SettleHandler) decodeSubmission(w http.ResponseWriter, r *http.Request) (domain.Submission, bool) {
	var payload submissionPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return domain.Submission{}, false
	}

	sub, err := payload.toDomain()
	if err != nil {
		if errors.Is(err, domain.ErrInvalidSubmission) {
			writeError(w, http.StatusBadRequest, "invalid submission")
		} else {
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return domain.Submission{}, false
	}
	return sub, true
}
