package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcast(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(nil, func() any { return map[string]string{"state": "MONITORING"} }, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if env := readEnvelope(t, conn); env.Type != "status" || !strings.Contains(string(env.Payload), "MONITORING") {
		t.Fatalf("status frame = %+v", env)
	}
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.Broadcast("positions", []byte(`{"position_id":"p1"}`))
	if env := readEnvelope(t, conn); env.Type != "positions" || !strings.Contains(string(env.Payload), "p1") {
		t.Fatalf("event frame = %+v", env)
	}

	if err := conn.WriteJSON(subscribeMsg{Action: "unsubscribe", Channels: []string{"prices"}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		for c := range hub.clients {
			return !c.isSubscribed("prices")
		}
		return false
	})
	hub.Broadcast("prices", []byte(`{"symbol":"BTCUSDT"}`))
	hub.Broadcast("risk_settings", []byte(`{"user_id":"u1"}`))
	if env := readEnvelope(t, conn); env.Type != "risk_settings" {
		t.Fatalf("expected prices to be filtered, got %+v", env)
	}
}
