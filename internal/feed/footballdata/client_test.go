package footballdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alanyoungcy/wagerwatch/internal/domain"
)

type countingLimiter struct {
	waits int
	key   string
}

func (l *countingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *countingLimiter) Wait(_ context.Context, key string, _ int, _ time.Duration) error {
	l.waits++
	l.key = key
	return nil
}

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/matches/165069", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Auth-Token") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"id":165069,"status":"IN_PLAY","score":{"fullTime":{"home":2,"away":1}}}`))
	})
	mux.HandleFunc("/matches/7", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":7,"status":"TIMED","score":{"fullTime":{"home":null,"away":null}}}`))
	})
	mux.HandleFunc("/matches/8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":"Fixture unavailable"}`))
	})
	mux.HandleFunc("/matches/9", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"message":"slow down","errorCode":429}`))
	})
	mux.HandleFunc("/matches/10", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFixture(t *testing.T) {
	srv := newServer(t)
	lim := &countingLimiter{}
	c := NewClient(srv.URL+"/", "secret", time.Second, WithRateLimit(lim, 10, time.Minute))

	f, err := c.Fixture(context.Background(), 165069)
	if err != nil {
		t.Fatalf("fixture: %v", err)
	}
	if f.Status != domain.FixtureInPlay || f.HomeGoals == nil || *f.HomeGoals != 2 || f.AwayGoals == nil || *f.AwayGoals != 1 {
		t.Errorf("fixture: got %+v", f)
	}
	if lim.waits != 1 || lim.key != rateKey {
		t.Errorf("limiter: got %d waits on %q", lim.waits, lim.key)
	}

	f, err = c.Fixture(context.Background(), 7)
	if err != nil {
		t.Fatalf("fixture 7: %v", err)
	}
	if f.Status != domain.FixtureTimed || f.HomeGoals != nil || f.AwayGoals != nil {
		t.Errorf("fixture 7: got %+v", f)
	}
}

func TestFixtureErrors(t *testing.T) {
	srv := newServer(t)
	c := NewClient(srv.URL, "secret", time.Second)

	tests := []struct {
		id   int64
		want error
	}{
		{0, domain.ErrNotFound},
		{404, domain.ErrNotFound},
		{8, domain.ErrFeedUnavailable},
		{9, domain.ErrRateLimited},
		{10, domain.ErrFeedUnavailable},
	}
	for _, test := range tests {
		_, err := c.Fixture(context.Background(), test.id)
		if !errors.Is(err, test.want) {
			t.Errorf("fixture %d: got %v, want %v", test.id, err, test.want)
		}
	}

	c = NewClient("http://127.0.0.1:1", "", 200*time.Millisecond)
	if _, err := c.Fixture(context.Background(), 1); !errors.Is(err, domain.ErrFeedUnavailable) {
		t.Errorf("unreachable feed: got %v", err)
	}
}
