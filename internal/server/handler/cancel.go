package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tradewire/settled/internal/crypto"
	"github.com/tradewire/settled/internal/domain"
)

// CancelHandler serves order and trade cancellation. As with settlement,
// refusals are protocol outcomes and come back as 200 with ok=false.
type CancelHandler struct {
	engine SettlementEngine
	logger *slog.Logger
}

// NewCancelHandler creates a CancelHandler.
func NewCancelHandler(engine SettlementEngine, logger *slog.Logger) *CancelHandler {
	return &CancelHandler{
		engine: engine,
		logger: logHandler(logger, "cancel"),
	}
}

type cancelOrderRequest struct {
	Order  orderPayload `json:"order"`
	Sig    string       `json:"sig"`
	Caller string       `json:"caller"`
}

// CancelOrder permanently zeroes an order's remaining capacity.
// POST /v1/orders/cancel
func (h *CancelHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	order, err := req.Order.toDomain()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := parseSignature("sig", req.Sig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.engine.CancelOrder(r.Context(), order, sig, caller)
	orderHash := crypto.OrderHash(h.engine.Address(), order)

	writeJSON(w, http.StatusOK, newResultResponse(res, orderHash, common.Hash{}, h.engine.Filled(orderHash)))
}

type cancelTradeRequest struct {
	OrderHash  string `json:"order_hash"`
	Amount     string `json:"amount"`
	TradeNonce uint64 `json:"trade_nonce"`
	Taker      string `json:"taker"`
	Sig        string `json:"sig"`
	Caller     string `json:"caller"`
}

// CancelTrade marks a trade hash spent before it is ever settled.
// POST /v1/trades/cancel
func (h *CancelHandler) CancelTrade(w http.ResponseWriter, r *http.Request) {
	var req cancelTradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	orderHash, err := parseHash("order_hash", req.OrderHash)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	taker, err := parseAddress("taker", req.Taker)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sig, err := parseSignature("sig", req.Sig)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res := h.engine.CancelTrade(r.Context(), orderHash, amount, req.TradeNonce, taker, sig, caller)
	tradeHash := crypto.TradeHash(domain.Trade{
		OrderHash:  orderHash,
		Amount:     amount,
		TradeNonce: req.TradeNonce,
		Taker:      taker,
	})

	writeJSON(w, http.StatusOK, newResultResponse(res, orderHash, tradeHash, nil))
}
