package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alanyoungcy/papertrade/internal/domain"
	"github.com/alanyoungcy/papertrade/internal/feed"
	"github.com/alanyoungcy/papertrade/internal/metrics"
	"github.com/alanyoungcy/papertrade/internal/server/handler"
	"github.com/alanyoungcy/papertrade/internal/service"
	"github.com/alanyoungcy/papertrade/internal/store/memory"
)

type testServer struct {
	handler http.Handler
	monitor *service.RiskManager
	apiKey  string
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	simFeed := feed.NewSimulatedFeed(map[string]float64{"BTCUSDT": 100}, logger, feed.WithMetrics(m))
	settings := service.NewRiskSettingsService(st.RiskSettings(), logger)
	registry := service.NewBridgeRegistry(service.BridgeDeps{
		Accounts:  st.Accounts(),
		Positions: st.Positions(),
		Trades:    st.Trades(),
		Feed:      simFeed,
		Settings:  settings,
		Audit:     st.Audit(),
		Metrics:   m,
		Logger:    logger,
	})
	monitor := service.NewRiskManager(st.Accounts(), registry, simFeed, m, 4, logger)
	t.Cleanup(monitor.StopMonitoring)

	h := NewHandler(Config{APIKey: apiKey}, Handlers{
		Health:       handler.NewHealthHandler(nil, logger),
		Status:       handler.NewStatusHandler("paper", monitor, time.Hour),
		Trading:      handler.NewTradingHandler(registry, logger),
		RiskSettings: handler.NewRiskSettingsHandler(settings, logger),
		Prices:       handler.NewPriceHandler(simFeed, logger),
	}, Options{Gatherer: reg}, logger)
	return &testServer{handler: h, monitor: monitor, apiKey: apiKey}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestTradeLifecycle(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/api/users/u1/trades", map[string]any{
		"symbol": "btcusdt", "direction": "long", "entry_price": 100, "quantity": 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("execute status = %d body=%s", rec.Code, rec.Body)
	}
	res := decode[domain.ExecutionResult](t, rec)
	if !res.Success || res.PositionID == "" {
		t.Fatalf("result = %+v", res)
	}

	rec = s.do(t, http.MethodGet, "/api/users/u1/positions", nil)
	positions := decode[struct{ Positions []domain.Position }](t, rec).Positions
	if len(positions) != 1 || positions[0].Symbol != "BTCUSDT" {
		t.Fatalf("positions = %+v", positions)
	}

	rec = s.do(t, http.MethodPost, "/api/users/u1/positions/"+res.PositionID+"/close", map[string]any{"exit_price": 110})
	if rec.Code != http.StatusOK {
		t.Fatalf("close status = %d body=%s", rec.Code, rec.Body)
	}
	trade := decode[domain.Trade](t, rec)
	if trade.RealizedPnL == nil || *trade.RealizedPnL != 20 || trade.CloseReason != domain.CloseReasonManual {
		t.Fatalf("trade = %+v", trade)
	}

	rec = s.do(t, http.MethodPost, "/api/users/u1/positions/"+res.PositionID+"/close", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second close status = %d, want 409", rec.Code)
	}

	acct := decode[domain.Account](t, s.do(t, http.MethodGet, "/api/users/u1/account", nil))
	if acct.TotalTrades != 1 || acct.WinningTrades != 1 || acct.TotalProfitLoss != 20 {
		t.Fatalf("account = %+v", acct)
	}

	trades := decode[struct{ Trades []domain.Trade }](t, s.do(t, http.MethodGet, "/api/users/u1/trades?limit=10", nil)).Trades
	if len(trades) != 1 || trades[0].Status != domain.TradeClosed {
		t.Fatalf("trades = %+v", trades)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t, "")

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"invalid signal", http.MethodPost, "/api/users/u1/trades", map[string]any{"symbol": "BTCUSDT", "entry_price": -1, "quantity": 1}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/users/u1/trades", map[string]any{"bogus": 1}, http.StatusBadRequest},
		{"unknown position", http.MethodPost, "/api/users/u1/positions/nope/close", nil, http.StatusNotFound},
		{"unknown profile", http.MethodPost, "/api/users/u1/risk-settings/profile", map[string]any{"profile": "yolo"}, http.StatusNotFound},
		{"invalid settings", http.MethodPatch, "/api/users/u1/risk-settings", map[string]any{"stop_loss_percent": 0}, http.StatusBadRequest},
		{"invalid price", http.MethodPost, "/api/prices/BTCUSDT", map[string]any{"price": 0}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if rec := s.do(t, tc.method, tc.path, tc.body); rec.Code != tc.want {
				t.Fatalf("status = %d, want %d (body=%s)", rec.Code, tc.want, rec.Body)
			}
		})
	}
}

func TestRiskSettingsEndpoints(t *testing.T) {
	s := newTestServer(t, "")

	rs := decode[domain.RiskSettings](t, s.do(t, http.MethodGet, "/api/users/u1/risk-settings", nil))
	if rs.StopLossPercent != 2 || rs.TakeProfitPercent != 4 || rs.ID == 0 {
		t.Fatalf("defaults = %+v", rs)
	}

	rec := s.do(t, http.MethodPost, "/api/users/u1/risk-settings/profile", map[string]any{"profile": "aggressive"})
	rs = decode[domain.RiskSettings](t, rec)
	if rs.StopLossPercent != 4 || rs.StrategyMode != "aggressive" {
		t.Fatalf("profile = %+v", rs)
	}

	rec = s.do(t, http.MethodPatch, "/api/users/u1/risk-settings", map[string]any{"stop_loss_enabled": true})
	rs = decode[domain.RiskSettings](t, rec)
	if !rs.StopLossEnabled || rs.StopLossPercent != 4 {
		t.Fatalf("patched = %+v", rs)
	}

	profiles := decode[struct{ Profiles []domain.RiskProfile }](t, s.do(t, http.MethodGet, "/api/risk-profiles", nil)).Profiles
	if len(profiles) != 5 {
		t.Fatalf("profiles = %d", len(profiles))
	}
}

func TestMonitorClosesOnSimulatedPrice(t *testing.T) {
	s := newTestServer(t, "")

	rec := s.do(t, http.MethodPost, "/api/monitor/start", map[string]any{"interval": "1h"})
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d body=%s", rec.Code, rec.Body)
	}

	res := decode[domain.ExecutionResult](t, s.do(t, http.MethodPost, "/api/users/u1/trades", map[string]any{
		"symbol": "BTCUSDT", "direction": "LONG", "entry_price": 100, "quantity": 1,
		"risk": map[string]any{"stop_loss_percent": 5},
	}))

	if rec := s.do(t, http.MethodPost, "/api/prices/BTCUSDT", map[string]any{"price": 94}); rec.Code != http.StatusOK {
		t.Fatalf("price status = %d body=%s", rec.Code, rec.Body)
	}

	positions := decode[struct{ Positions []domain.Position }](t, s.do(t, http.MethodGet, "/api/users/u1/positions", nil)).Positions
	if len(positions) != 0 {
		t.Fatalf("position %s still open: %+v", res.PositionID, positions)
	}
	trades := decode[struct{ Trades []domain.Trade }](t, s.do(t, http.MethodGet, "/api/users/u1/trades", nil)).Trades
	if len(trades) != 1 || trades[0].CloseReason != domain.CloseReasonStopLoss {
		t.Fatalf("trades = %+v", trades)
	}

	status := decode[struct {
		Mode    string
		Monitor service.MonitorStats
	}](t, s.do(t, http.MethodGet, "/api/status", nil))
	if status.Mode != "paper" || status.Monitor.State != service.StateMonitoring || status.Monitor.AutoCloses != 1 {
		t.Fatalf("status = %+v", status)
	}

	s.do(t, http.MethodPost, "/api/monitor/stop", nil)
	if s.monitor.State() != service.StateStopped {
		t.Fatalf("state = %s", s.monitor.State())
	}
}

func TestAuthAndMetrics(t *testing.T) {
	s := newTestServer(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/api/users/u1/account", nil)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health status = %d", rec.Code)
	}

	s.do(t, http.MethodPost, "/api/users/u1/trades", map[string]any{
		"symbol": "BTCUSDT", "entry_price": 100, "quantity": 1,
	})
	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	if !strings.Contains(rec.Body.String(), "papertrade_bridge_trades_opened_total") {
		t.Fatalf("metrics missing trades_opened:\n%s", rec.Body)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing request id")
	}
}

func TestRunShutsDownOnCancel(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := &Server{
		httpServer: &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()},
		logger:     logger,
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}
