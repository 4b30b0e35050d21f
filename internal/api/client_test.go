package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/refreshd/internal/errors"
)

func TestFetch_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Verify auth header
		auth := r.Header.Get("Authorization")
		if auth != "Bearer test-key" {
			t.Errorf("expected Bearer test-key, got %s", auth)
		}

		expectedPath := "/v1/data/users"
		if r.URL.Path != expectedPath {
			t.Errorf("expected path %s, got %s", expectedPath, r.URL.Path)
		}

		if got := r.URL.Query().Get("userId"); got != "u-1" {
			t.Errorf("expected userId u-1, got %q", got)
		}
		if r.URL.Query().Has("sessionId") {
			t.Error("empty sessionId should not be sent")
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":1,"name":"x"}`))
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "test-key", 10, 30*time.Second, 1*time.Second, 3, logger)

	data, err := client.Fetch(context.Background(), "users", "u-1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	record, ok := data.(map[string]any)
	if !ok {
		t.Fatalf("expected object, got %T", data)
	}
	if record["name"] != "x" {
		t.Errorf("unexpected name: %v", record["name"])
	}
	if record["id"] != float64(1) {
		t.Errorf("unexpected id: %v", record["id"])
	}
}

func TestFetch_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "test-key", 10, 30*time.Second, 1*time.Second, 0, logger)

	_, err := client.Fetch(context.Background(), "users", "", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFetch_AuthFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "bad-key", 10, 30*time.Second, 1*time.Second, 3, logger)

	_, err := client.Fetch(context.Background(), "users", "", "")
	if !errors.Is(err, ErrAuthFailed) {
		t.Errorf("expected ErrAuthFailed, got %v", err)
	}
}

func TestFetch_RateLimited(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "test-key", 10, 30*time.Second, 10*time.Millisecond, 2, logger)

	_, err := client.Fetch(context.Background(), "users", "", "")
	if err == nil {
		t.Error("expected error for rate limiting")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited in chain, got %v", err)
	}

	// Should have attempted 3 times (initial + 2 retries)
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestFetch_RecoversAfterServerError(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[1,2,3]`))
	}))
	defer server.Close()

	logger, _ := zap.NewDevelopment()
	client := NewClient(server.URL, "test-key", 10, 30*time.Second, 10*time.Millisecond, 2, logger)

	data, err := client.Fetch(context.Background(), "counters", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list, ok := data.([]any); !ok || len(list) != 3 {
		t.Errorf("unexpected payload: %#v", data)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}
