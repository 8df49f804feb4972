package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/service"
)

// RiskSettingsService defines the settings operations the handler requires.
type RiskSettingsService interface {
	GetUserRiskSettings(ctx context.Context, userID string) domain.RiskSettings
	UpdateRiskSettings(ctx context.Context, userID string, patch domain.RiskSettingsPatch) (domain.RiskSettings, error)
	ApplyRiskProfile(ctx context.Context, userID, profileName string) (domain.RiskSettings, error)
}

// RiskSettingsHandler serves per-user risk settings.
type RiskSettingsHandler struct {
	settings RiskSettingsService
	logger   *slog.Logger
}

// NewRiskSettingsHandler creates a RiskSettingsHandler.
func NewRiskSettingsHandler(settings RiskSettingsService, logger *slog.Logger) *RiskSettingsHandler {
	return &RiskSettingsHandler{settings: settings, logger: logHandler(logger, "risk_settings")}
}

// GetSettings returns the user's settings, defaults included.
// GET /api/users/{userID}/risk-settings
func (h *RiskSettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.GetUserRiskSettings(r.Context(), r.PathValue("userID")))
}

// UpdateSettings applies a partial update.
// PATCH /api/users/{userID}/risk-settings
func (h *RiskSettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch domain.RiskSettingsPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	rs, err := h.settings.UpdateRiskSettings(r.Context(), r.PathValue("userID"), patch)
	if err != nil {
		writeServiceError(w, r, h.logger, "update risk settings", err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

type applyProfileRequest struct {
	Profile string `json:"profile"`
}

// ApplyProfile overwrites the user's thresholds with a named preset.
// POST /api/users/{userID}/risk-settings/profile  {"profile":"aggressive"}
func (h *RiskSettingsHandler) ApplyProfile(w http.ResponseWriter, r *http.Request) {
	var req applyProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Profile == "" {
		writeError(w, http.StatusBadRequest, "profile is required")
		return
	}
	rs, err := h.settings.ApplyRiskProfile(r.Context(), r.PathValue("userID"), req.Profile)
	if err != nil {
		writeServiceError(w, r, h.logger, "apply risk profile", err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// ListProfiles returns the named presets.
// GET /api/risk-profiles
func (h *RiskSettingsHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"profiles": service.RiskProfiles()})
}
