package birdeye

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordingLimiter struct {
	keys    []string
	limits  []int
	windows []time.Duration
	waitErr error
}

func (l *recordingLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return true, nil
}

func (l *recordingLimiter) Wait(_ context.Context, key string, limit int, window time.Duration) error {
	l.keys = append(l.keys, key)
	l.limits = append(l.limits, limit)
	l.windows = append(l.windows, window)
	return l.waitErr
}

func priceServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write([]byte(body)); err != nil {
			t.Errorf("write response: %v", err)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClientAppliesConfiguredRequestBudget(t *testing.T) {
	srv := priceServer(t, `{"success":true,"data":{"value":1.25,"updateUnixTime":1700000000}}`)

	limiter := &recordingLimiter{}
	client := NewClient(srv.URL, "key", time.Hour, 25, limiter)

	price, err := client.GetPrice(context.Background(), "mint-a")
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 1.25 {
		t.Fatalf("price = %v, want 1.25", price)
	}

	if len(limiter.limits) != 1 {
		t.Fatalf("limiter waits = %d, want 1", len(limiter.limits))
	}
	if limiter.keys[0] != "birdeye" {
		t.Errorf("limiter key = %q, want %q", limiter.keys[0], "birdeye")
	}
	if limiter.limits[0] != 25 {
		t.Errorf("limiter budget = %d, want 25", limiter.limits[0])
	}
	if limiter.windows[0] != time.Second {
		t.Errorf("limiter window = %v, want %v", limiter.windows[0], time.Second)
	}
}

func TestClientDefaultsRequestBudget(t *testing.T) {
	srv := priceServer(t, `{"success":true,"data":{"value":0.5,"updateUnixTime":1700000000}}`)

	limiter := &recordingLimiter{}
	client := NewClient(srv.URL, "key", time.Hour, 0, limiter)

	if _, err := client.GetPrice(context.Background(), "mint-a"); err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if limiter.limits[0] != 10 {
		t.Errorf("limiter budget = %d, want default 10", limiter.limits[0])
	}
}

func TestClientStopsWhenLimiterRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request reached server despite limiter rejection")
	}))
	t.Cleanup(srv.Close)

	limitErr := errors.New("budget exhausted")
	client := NewClient(srv.URL, "key", time.Hour, 5, &recordingLimiter{waitErr: limitErr})

	_, err := client.GetPrice(context.Background(), "mint-a")
	if !errors.Is(err, limitErr) {
		t.Fatalf("GetPrice error = %v, want %v", err, limitErr)
	}
}
