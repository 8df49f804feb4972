package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

// PriceSimulator drives price changes on the simulated feed.
type PriceSimulator interface {
	SimulatePriceChange(ctx context.Context, symbol string, price float64) (domain.PriceTick, error)
}

// PriceHandler lets API clients move simulated prices.
type PriceHandler struct {
	sim    PriceSimulator
	logger *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(sim PriceSimulator, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{sim: sim, logger: logHandler(logger, "price")}
}

type setPriceRequest struct {
	Price float64 `json:"price"`
}

// SetPrice publishes a new price for a symbol. Subscribers, including the
// risk monitor, have been notified by the time the response is written.
// POST /api/prices/{symbol}  {"price":101.5}
func (h *PriceHandler) SetPrice(w http.ResponseWriter, r *http.Request) {
	var req setPriceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	tick, err := h.sim.SimulatePriceChange(r.Context(), r.PathValue("symbol"), req.Price)
	if err != nil {
		writeServiceError(w, r, h.logger, "set price", err)
		return
	}
	writeJSON(w, http.StatusOK, tick)
}
