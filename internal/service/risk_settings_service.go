package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/events"
)

// riskProfiles is the fixed table of named presets.
var riskProfiles = map[string]domain.RiskProfile{
	"conservative": {Name: "conservative", StopLossPercent: 1.5, TakeProfitPercent: 3.0, MaxPositionSize: 5.0, MaxPortfolioRisk: 10.0},
	"balanced":     {Name: "balanced", StopLossPercent: 2.0, TakeProfitPercent: 4.0, MaxPositionSize: 10.0, MaxPortfolioRisk: 20.0},
	"aggressive":   {Name: "aggressive", StopLossPercent: 4.0, TakeProfitPercent: 8.0, MaxPositionSize: 15.0, MaxPortfolioRisk: 30.0},
	"dayTrader":    {Name: "dayTrader", StopLossPercent: 1.0, TakeProfitPercent: 2.0, MaxPositionSize: 8.0, MaxPortfolioRisk: 15.0},
	"swingTrader":  {Name: "swingTrader", StopLossPercent: 5.0, TakeProfitPercent: 10.0, MaxPositionSize: 12.0, MaxPortfolioRisk: 25.0},
}

// RiskProfiles returns the named presets sorted by name.
func RiskProfiles() []domain.RiskProfile {
	out := make([]domain.RiskProfile, 0, len(riskProfiles))
	for _, p := range riskProfiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RiskSettingsService serves per-user risk settings with lazy defaults and an
// in-memory cache keyed by user id.
type RiskSettingsService struct {
	store   domain.RiskSettingsStore
	updated *events.Emitter[domain.SettingsUpdatedEvent]
	loads   singleflight.Group
	logger  *slog.Logger

	mu    sync.RWMutex
	cache map[string]domain.RiskSettings
}

// NewRiskSettingsService creates a RiskSettingsService backed by store.
func NewRiskSettingsService(store domain.RiskSettingsStore, logger *slog.Logger) *RiskSettingsService {
	return &RiskSettingsService{
		store:   store,
		updated: events.NewEmitter[domain.SettingsUpdatedEvent](),
		cache:   make(map[string]domain.RiskSettings),
		logger:  logger.With(slog.String("component", "risk_settings")),
	}
}

// OnSettingsUpdated registers fn for settingsUpdated events.
func (s *RiskSettingsService) OnSettingsUpdated(fn func(domain.SettingsUpdatedEvent)) (unsubscribe func()) {
	return s.updated.Subscribe(fn)
}

// GetUserRiskSettings returns the user's settings, creating and persisting
// the defaults on first access. It never fails: when storage is unavailable
// it returns unpersisted defaults with ID 0, which are not cached.
func (s *RiskSettingsService) GetUserRiskSettings(ctx context.Context, userID string) domain.RiskSettings {
	if rs, ok := s.cached(userID); ok {
		return rs
	}

	rs, err := s.load(ctx, userID)
	if err != nil {
		s.logger.WarnContext(ctx, "risk settings unavailable, serving defaults",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return domain.DefaultRiskSettings(userID)
	}
	return rs
}

// UpdateRiskSettings merges patch onto the user's current settings, persists
// the result, replaces the cache entry and emits settingsUpdated. On failure
// the cache is left untouched.
func (s *RiskSettingsService) UpdateRiskSettings(ctx context.Context, userID string, patch domain.RiskSettingsPatch) (domain.RiskSettings, error) {
	if err := validatePatch(patch); err != nil {
		return domain.RiskSettings{}, fmt.Errorf("risk_settings: update %s: %w", userID, err)
	}

	current, err := s.load(ctx, userID)
	if err != nil {
		return domain.RiskSettings{}, fmt.Errorf("risk_settings: update %s: %w", userID, err)
	}

	saved, err := s.store.Update(ctx, patch.Apply(current))
	if err != nil {
		return domain.RiskSettings{}, fmt.Errorf("risk_settings: update %s: %w: %w", userID, domain.ErrStorage, err)
	}

	s.mu.Lock()
	s.cache[userID] = saved
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "risk settings updated",
		slog.String("user_id", userID),
		slog.Float64("stop_loss_percent", saved.StopLossPercent),
		slog.Float64("take_profit_percent", saved.TakeProfitPercent),
	)
	s.updated.Emit(domain.SettingsUpdatedEvent{UserID: userID, Settings: saved})
	return saved, nil
}

// ApplyRiskProfile overwrites the user's thresholds with a named preset.
// Unknown names fail with ErrUnknownProfile, which also matches ErrNotFound.
func (s *RiskSettingsService) ApplyRiskProfile(ctx context.Context, userID, profileName string) (domain.RiskSettings, error) {
	p, ok := riskProfiles[profileName]
	if !ok {
		return domain.RiskSettings{}, fmt.Errorf("risk_settings: profile %q: %w: %w", profileName, domain.ErrUnknownProfile, domain.ErrNotFound)
	}
	name := p.Name
	return s.UpdateRiskSettings(ctx, userID, domain.RiskSettingsPatch{
		StopLossPercent:   &p.StopLossPercent,
		TakeProfitPercent: &p.TakeProfitPercent,
		MaxPositionSize:   &p.MaxPositionSize,
		MaxPortfolioRisk:  &p.MaxPortfolioRisk,
		StrategyMode:      &name,
	})
}

// ClearCache drops the cached entries for the given users, or every entry
// when called without arguments.
func (s *RiskSettingsService) ClearCache(userIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(userIDs) == 0 {
		clear(s.cache)
		return
	}
	for _, id := range userIDs {
		delete(s.cache, id)
	}
}

func (s *RiskSettingsService) cached(userID string) (domain.RiskSettings, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rs, ok := s.cache[userID]
	return rs, ok
}

// load returns the persisted settings, creating defaults when none exist.
// Concurrent loads for the same user share one storage round trip.
func (s *RiskSettingsService) load(ctx context.Context, userID string) (domain.RiskSettings, error) {
	if rs, ok := s.cached(userID); ok {
		return rs, nil
	}

	v, err, _ := s.loads.Do(userID, func() (any, error) {
		rs, err := s.store.GetByUserID(ctx, userID)
		if errors.Is(err, domain.ErrNotFound) {
			rs, err = s.store.Create(ctx, domain.DefaultRiskSettings(userID))
			if errors.Is(err, domain.ErrAlreadyExists) {
				rs, err = s.store.GetByUserID(ctx, userID)
			}
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
		}

		s.mu.Lock()
		s.cache[userID] = rs
		s.mu.Unlock()
		return rs, nil
	})
	if err != nil {
		return domain.RiskSettings{}, err
	}
	return v.(domain.RiskSettings), nil
}

func validatePatch(p domain.RiskSettingsPatch) error {
	positive := map[string]*float64{
		"stop_loss_percent":   p.StopLossPercent,
		"take_profit_percent": p.TakeProfitPercent,
		"max_position_size":   p.MaxPositionSize,
		"max_portfolio_risk":  p.MaxPortfolioRisk,
	}
	for name, v := range positive {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%w: %s must be > 0", domain.ErrInvalidParameters, name)
		}
	}
	if p.MaxPositionSize != nil && *p.MaxPositionSize > 100 {
		return fmt.Errorf("%w: max_position_size must be <= 100", domain.ErrInvalidParameters)
	}
	if p.MaxPortfolioRisk != nil && *p.MaxPortfolioRisk > 100 {
		return fmt.Errorf("%w: max_portfolio_risk must be <= 100", domain.ErrInvalidParameters)
	}
	if p.MaxTradesPerDay != nil && *p.MaxTradesPerDay < 1 {
		return fmt.Errorf("%w: max_trades_per_day must be >= 1", domain.ErrInvalidParameters)
	}
	return nil
}
