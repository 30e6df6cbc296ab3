package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tradewire/settled/internal/admin"
	"github.com/tradewire/settled/internal/domain"
	"github.com/tradewire/settled/internal/token"
)

// AdminHandler serves custody seeding and role management. Funding and
// approval exist so operators can model the external token state the engine
// settles against; role changes go through the registry's owner checks.
type AdminHandler struct {
	bank     *token.Bank
	registry *admin.Registry
	logger   *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(bank *token.Bank, registry *admin.Registry, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		bank:     bank,
		registry: registry,
		logger:   logHandler(logger, "admin"),
	}
}

type fundRequest struct {
	Token  string `json:"token"`
	Owner  string `json:"owner"`
	Amount string `json:"amount"`
}

// Fund mints balance to an owner.
// POST /v1/admin/fund
func (h *AdminHandler) Fund(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tok, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.bank.Mint(r.Context(), tok, owner, amount); err != nil {
		writeError(w, http.StatusBadRequest, "mint failed")
		return
	}

	bal, err := h.bank.BalanceOf(r.Context(), tok, owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "balance query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   tok.Hex(),
		"owner":   owner.Hex(),
		"balance": bal.String(),
	})
}

// Approve sets the engine's allowance for an owner's token.
// POST /v1/admin/approve
func (h *AdminHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req fundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	tok, err := parseAddress("token", req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.bank.Approve(r.Context(), tok, owner, amount); err != nil {
		writeError(w, http.StatusBadRequest, "approve failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     tok.Hex(),
		"owner":     owner.Hex(),
		"allowance": amount.String(),
	})
}

type operatorRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
	Op      string `json:"op"` // "add" or "remove"
}

// Operators adds or removes an operator on behalf of the caller.
// POST /v1/admin/operators
func (h *AdminHandler) Operators(w http.ResponseWriter, r *http.Request) {
	var req operatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch req.Op {
	case "add":
		err = h.registry.AddOperator(caller, addr)
	case "remove":
		err = h.registry.RemoveOperator(caller, addr)
	default:
		writeError(w, http.StatusBadRequest, "op must be add or remove")
		return
	}

	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "caller is not the owner")
			return
		}
		h.logger.Error("operator update failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "operator update failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"address":  addr.Hex(),
		"operator": h.registry.IsOperator(addr),
	})
}

type feeAccountRequest struct {
	Caller  string `json:"caller"`
	Address string `json:"address"`
}

// SetFeeAccount redirects protocol fees.
// POST /v1/admin/fee-account
func (h *AdminHandler) SetFeeAccount(w http.ResponseWriter, r *http.Request) {
	var req feeAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	caller, err := parseAddress("caller", req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.registry.SetFeeAccount(caller, addr); err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusForbidden, "caller is not the owner")
			return
		}
		h.logger.Error("set fee account failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "set fee account failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"fee_account": h.registry.FeeAccount().Hex(),
	})
}
