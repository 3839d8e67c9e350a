package llmclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func jsonResponse(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func TestCompleteReturnsTrimmedContent(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusOK, map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "  //*[@id=\"fixed\"]  "}}},
		})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Model: "local-model", Timeout: 2 * time.Second})
	content, err := c.Complete(context.Background(), []Message{{Role: "user", Content: "heal this locator"}})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if content != `//*[@id="fixed"]` {
		t.Errorf("unexpected content: %q", content)
	}
}

func TestCompleteDoesNotRetry4xx(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		jsonResponse(w, http.StatusBadRequest, map[string]string{"error": "bad request"})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RetryCount: 3, RetryDelay: 10 * time.Millisecond})
	_, err := c.Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("expected exactly 1 call for a 4xx, got %d", calls)
	}
}

func TestCompleteRetries5xx(t *testing.T) {
	t.Parallel()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			jsonResponse(w, http.StatusInternalServerError, map[string]string{"error": "transient"})
			return
		}
		jsonResponse(w, http.StatusOK, map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RetryCount: 5, RetryDelay: 5 * time.Millisecond})
	content, err := c.Complete(context.Background(), nil)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if content != "ok" {
		t.Errorf("unexpected content: %q", content)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Errorf("expected 3 calls before success, got %d", calls)
	}
}

func TestCompleteFailsAfterExhaustingRetries(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"error": "down"})
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL, Timeout: 2 * time.Second, RetryCount: 2, RetryDelay: 5 * time.Millisecond})
	_, err := c.Complete(context.Background(), nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}
