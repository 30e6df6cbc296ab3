package handler

import (
	"net/http"
	"time"

	"github.com/tradewire/settled/internal/domain"
)

// StatusHandler serves runtime status: engine identity, roles, and the
// current block height.
type StatusHandler struct {
	engine SettlementEngine
	auth   domain.Authorizer
	clock  domain.BlockClock
	mode   string
	start  time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(engine SettlementEngine, auth domain.Authorizer, clock domain.BlockClock, mode string) *StatusHandler {
	return &StatusHandler{
		engine: engine,
		auth:   auth,
		clock:  clock,
		mode:   mode,
		start:  time.Now().UTC(),
	}
}

// GetStatus responds with the engine address, fee account, block height,
// mode, and uptime.
// GET /v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"engine_address": h.engine.Address().Hex(),
		"fee_account":    h.auth.FeeAccount().Hex(),
		"block_height":   h.clock.Height(),
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.start).Seconds()),
	})
}
