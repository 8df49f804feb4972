package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/papertrade/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
	sent   chan struct{}
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	f.titles = append(f.titles, title)
	f.mu.Unlock()
	if f.sent != nil {
		f.sent <- struct{}{}
	}
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifierFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventPositionClosed}, discardLogger())
	ctx := context.Background()

	if err := n.Notify(ctx, EventSettingsUpdated, "ignored", ""); err != nil {
		t.Fatal(err)
	}
	if err := n.Notify(ctx, EventPositionClosed, "kept", ""); err != nil {
		t.Fatal(err)
	}
	if len(s.titles) != 1 || s.titles[0] != "kept" {
		t.Fatalf("titles = %v", s.titles)
	}
}

func TestNotifierContinuesPastFailingSender(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.NotifyAll(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("err = %v", err)
	}
	if len(good.titles) != 1 {
		t.Fatal("good sender skipped")
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL, "TOKEN", "42")
	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatal(err)
	}
	if got["chat_id"] != "42" || got["text"] != "*Title*\nbody" {
		t.Fatalf("payload = %v", got)
	}
}

func TestDiscordSenderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("err = %v", err)
	}
}

func TestAlertsDeliverAsync(t *testing.T) {
	s := &fakeSender{name: "fake", sent: make(chan struct{}, 4)}
	a := NewAlerts(NewNotifier([]Sender{s}, nil, discardLogger()), discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	a.PositionClosed(domain.PositionClosedEvent{
		PositionID: "p1", Symbol: "BTCUSDT", Reason: domain.CloseReasonStopLoss,
		ClosePrice: 65800, PnLPercent: -6,
	})

	select {
	case <-s.sent:
	case <-time.After(2 * time.Second):
		t.Fatal("alert not delivered")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.titles[0] != "BTCUSDT stop-loss hit" {
		t.Fatalf("title = %q", s.titles[0])
	}
}

func TestAlertsSkipWithoutSenders(t *testing.T) {
	a := NewAlerts(NewNotifier(nil, nil, discardLogger()), discardLogger())
	a.SettingsUpdated(domain.SettingsUpdatedEvent{UserID: "u1"})
	if len(a.queue) != 0 {
		t.Fatal("alert queued with no senders")
	}
}
