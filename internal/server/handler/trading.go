package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/service"
)

// BridgeProvider resolves the TradingBridge for a user.
type BridgeProvider interface {
	ForUser(ctx context.Context, userID string) (*service.TradingBridge, error)
}

// TradingHandler serves account, position and trade endpoints.
type TradingHandler struct {
	bridges BridgeProvider
	logger  *slog.Logger
}

// NewTradingHandler creates a TradingHandler.
func NewTradingHandler(bridges BridgeProvider, logger *slog.Logger) *TradingHandler {
	return &TradingHandler{bridges: bridges, logger: logHandler(logger, "trading")}
}

func (h *TradingHandler) bridge(w http.ResponseWriter, r *http.Request) (*service.TradingBridge, bool) {
	b, err := h.bridges.ForUser(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeServiceError(w, r, h.logger, "load account", err)
		return nil, false
	}
	return b, true
}

// GetAccount returns the user's paper account, creating it on first use.
// GET /api/users/{userID}/account
func (h *TradingHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bridge(w, r)
	if !ok {
		return
	}
	acct, err := b.Account(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "get account", err)
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// ExecuteTrade opens a position from a trade signal.
// POST /api/users/{userID}/trades
func (h *TradingHandler) ExecuteTrade(w http.ResponseWriter, r *http.Request) {
	var sig domain.TradeSignal
	if err := decodeJSON(w, r, &sig); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, ok := h.bridge(w, r)
	if !ok {
		return
	}
	res, err := b.ExecuteTrade(r.Context(), sig)
	if err != nil {
		writeServiceError(w, r, h.logger, "execute trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type listTradesResponse struct {
	Trades []domain.Trade `json:"trades"`
}

// ListTrades returns the user's trade history, newest first.
// GET /api/users/{userID}/trades?limit=50&offset=0
func (h *TradingHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bridge(w, r)
	if !ok {
		return
	}
	trades, err := b.TradeHistory(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list trades", err)
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}
	writeJSON(w, http.StatusOK, listTradesResponse{Trades: trades})
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListPositions returns the user's open positions.
// GET /api/users/{userID}/positions
func (h *TradingHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	b, ok := h.bridge(w, r)
	if !ok {
		return
	}
	positions, err := b.GetOpenPositions(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

type closePositionRequest struct {
	ExitPrice *float64 `json:"exit_price,omitempty"`
}

// ClosePosition closes one of the user's open positions, at exit_price when
// given and at the feed price otherwise.
// POST /api/users/{userID}/positions/{id}/close
func (h *TradingHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	var req closePositionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	b, ok := h.bridge(w, r)
	if !ok {
		return
	}
	trade, err := b.ClosePosition(r.Context(), r.PathValue("id"), service.CloseOptions{
		ExitPrice: req.ExitPrice,
		Reason:    domain.CloseReasonManual,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "close position", err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}
