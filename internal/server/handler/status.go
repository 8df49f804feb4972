package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/alanyoungcy/papertrade/internal/service"
)

// Monitor is the RiskManager surface the API drives.
type Monitor interface {
	StartMonitoring(ctx context.Context, interval time.Duration) error
	StopMonitoring()
	Stats() service.MonitorStats
}

// StatusHandler serves the process status and monitor controls.
type StatusHandler struct {
	mode            string
	startedAt       time.Time
	defaultInterval time.Duration
	monitor         Monitor
}

// NewStatusHandler creates a StatusHandler. defaultInterval is used when a
// start request does not name one.
func NewStatusHandler(mode string, monitor Monitor, defaultInterval time.Duration) *StatusHandler {
	return &StatusHandler{
		mode:            mode,
		startedAt:       time.Now().UTC(),
		defaultInterval: defaultInterval,
		monitor:         monitor,
	}
}

// GetStatus responds with the run mode, uptime and monitor stats.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"monitor":        h.monitor.Stats(),
	})
}

type startMonitorRequest struct {
	Interval string `json:"interval"`
}

// StartMonitor starts the risk monitor. Starting a running monitor is a no-op.
// POST /api/monitor/start  {"interval":"5s"}
func (h *StatusHandler) StartMonitor(w http.ResponseWriter, r *http.Request) {
	var req startMonitorRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	interval := h.defaultInterval
	if req.Interval != "" {
		d, err := time.ParseDuration(req.Interval)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "interval must be a positive duration")
			return
		}
		interval = d
	}
	if err := h.monitor.StartMonitoring(r.Context(), interval); err != nil {
		writeError(w, http.StatusInternalServerError, "start monitor failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"monitor": h.monitor.Stats()})
}

// StopMonitor stops the risk monitor.
// POST /api/monitor/stop
func (h *StatusHandler) StopMonitor(w http.ResponseWriter, r *http.Request) {
	h.monitor.StopMonitoring()
	writeJSON(w, http.StatusOK, map[string]any{"monitor": h.monitor.Stats()})
}
