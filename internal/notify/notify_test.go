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
)

type recSender struct {
	name string
	err  error
	mu   sync.Mutex
	got  []string
}

func (s *recSender) Send(_ context.Context, title, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, title+"|"+message)
	return s.err
}

func (s *recSender) Name() string { return s.name }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifierFiltersEvents(t *testing.T) {
	s := &recSender{name: "rec"}
	n := NewNotifier([]Sender{s}, []string{EventFatal, " resync "}, discardLogger())
	ctx := context.Background()

	for _, ev := range []string{EventFatal, EventReconnect, EventResync} {
		if err := n.Notify(ctx, ev, "t", ev); err != nil {
			t.Fatalf("Notify(%s): %v", ev, err)
		}
	}
	want := []string{"t|fatal", "t|resync"}
	if strings.Join(s.got, ",") != strings.Join(want, ",") {
		t.Errorf("delivered: got %v, want %v", s.got, want)
	}
}

func TestNotifierContinuesPastFailure(t *testing.T) {
	errDown := errors.New("down")
	bad := &recSender{name: "bad", err: errDown}
	good := &recSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventReconnect, "t", "m")
	if !errors.Is(err, errDown) {
		t.Errorf("error: got %v, want %v", err, errDown)
	}
	if len(good.got) != 1 {
		t.Errorf("good sender deliveries: got %d, want 1", len(good.got))
	}
}

func TestNilNotifier(t *testing.T) {
	var n *Notifier
	if err := n.Notify(context.Background(), EventFatal, "t", "m"); err != nil {
		t.Errorf("nil notifier: got %v", err)
	}
	if n.Enabled() {
		t.Error("nil notifier reports enabled")
	}
}

func TestTelegramSender(t *testing.T) {
	var body map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Resync", "from block 120"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if body["chat_id"] != "42" || body["text"] != "*Resync*\nfrom block 120" {
		t.Errorf("payload: got %v", body)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "bad webhook", http.StatusBadRequest)
	}))
	defer srv.Close()

	if err := NewDiscordSender(srv.URL+"/ok").Send(context.Background(), "t", "m"); err != nil {
		t.Errorf("204: got %v", err)
	}
	err := NewDiscordSender(srv.URL+"/bad").Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("400: got %v", err)
	}
}
