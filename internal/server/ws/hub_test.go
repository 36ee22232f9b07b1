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

type chanBus struct {
	ch chan []byte
}

func (b *chanBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.ch <- payload
	return nil
}

func (b *chanBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return b.ch, nil
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func TestHubRelaysFilteredUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := &chanBus{ch: make(chan []byte, 8)}
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
	go func() { _ = hub.Run(ctx) }()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", hub.HandleWS)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	all := dial(t, srv, "")
	only4 := dial(t, srv, "?matches=4")
	if env := readEnvelope(t, all); env.Type != "hello" {
		t.Fatalf("first frame: got %q, want hello", env.Type)
	}
	if env := readEnvelope(t, only4); env.Type != "hello" {
		t.Fatalf("first frame: got %q, want hello", env.Type)
	}

	_ = bus.Publish(ctx, "", []byte(`{"matchId":3,"score":"1-0"}`))
	_ = bus.Publish(ctx, "", []byte(`{"matchId":4,"score":"2-2"}`))

	for _, want := range []uint64{3, 4} {
		env := readEnvelope(t, all)
		var snap struct {
			MatchID uint64 `json:"matchId"`
		}
		_ = json.Unmarshal(env.Payload, &snap)
		if env.Type != "match_update" || snap.MatchID != want {
			t.Errorf("all: got %s/%d, want match_update/%d", env.Type, snap.MatchID, want)
		}
	}

	env := readEnvelope(t, only4)
	var snap struct {
		MatchID uint64 `json:"matchId"`
		Score   string `json:"score"`
	}
	_ = json.Unmarshal(env.Payload, &snap)
	if snap.MatchID != 4 || snap.Score != "2-2" {
		t.Errorf("filtered: got %+v, want match 4", snap)
	}
}

func TestParseMatches(t *testing.T) {
	got := parseMatches("3, 4,x,")
	if len(got) != 2 || !got[3] || !got[4] {
		t.Errorf("parseMatches: got %v", got)
	}
	if len(parseMatches("")) != 0 {
		t.Error("empty query should select every match")
	}
}
