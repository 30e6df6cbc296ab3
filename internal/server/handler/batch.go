package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/tradewire/settled/internal/domain"
	"github.com/tradewire/settled/internal/relayer"
)

// maxBatchSize bounds a single batch request.
const maxBatchSize = 100

// BatchHandler accepts a list of submissions and relays them through the
// settlement engine in order.
type BatchHandler struct {
	relayer *relayer.Relayer
	logger  *slog.Logger
}

// NewBatchHandler creates a BatchHandler.
func NewBatchHandler(rl *relayer.Relayer, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{
		relayer: rl,
		logger:  logHandler(logger, "batch"),
	}
}

type batchItemResponse struct {
	Index     int    `json:"index"`
	OK        bool   `json:"ok"`
	Reason    string `json:"reason,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	OrderHash string `json:"order_hash"`
	TradeHash string `json:"trade_hash"`
}

// Execute settles a batch of submissions. Each item succeeds or fails on
// its own; the response carries one result per item in request order.
// POST /v1/batch
func (h *BatchHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var payloads []submissionPayload
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(payloads) == 0 {
		writeError(w, http.StatusBadRequest, "empty batch")
		return
	}
	if len(payloads) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch too large")
		return
	}

	decoded := make([]domain.Submission, 0, len(payloads))
	for i, p := range payloads {
		sub, err := p.toDomain()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			h.logger.Debug("batch item malformed", slog.Int("index", i))
			return
		}
		decoded = append(decoded, sub)
	}

	results := h.relayer.ExecuteBatch(r.Context(), decoded)

	items := make([]batchItemResponse, 0, len(results))
	settled := 0
	for _, res := range results {
		item := batchItemResponse{
			Index:     res.Index,
			OK:        res.Result.OK,
			Duplicate: res.Duplicate,
			OrderHash: res.OrderHash.Hex(),
			TradeHash: res.TradeHash.Hex(),
		}
		if !res.Result.OK {
			item.Reason = string(res.Result.Reason)
		} else {
			settled++
		}
		items = append(items, item)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results": items,
		"settled": settled,
		"total":   len(items),
	})
}
