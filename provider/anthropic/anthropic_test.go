package anthropic_provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quaero-ai/quaero/provider"
)

func TestCompleteReturnsText(t *testing.T) {
	var gotVersion, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"content": []map[string]string{{"type": "text", "text": "the answer"}},
		})
	}))
	defer srv.Close()

	c := NewClient("secret", "claude-3-haiku-20240307", 1024, 5*time.Second)
	c.baseURL = srv.URL

	answer, err := c.Complete(context.Background(), "a question")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if answer != "the answer" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if gotVersion != "2023-06-01" {
		t.Fatalf("unexpected version header %q", gotVersion)
	}
	if gotKey != "secret" {
		t.Fatalf("unexpected api key header %q", gotKey)
	}
}

func TestCompleteOverloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(statusOverloaded)
	}))
	defer srv.Close()

	c := NewClient("k", "m", 1024, time.Second)
	c.baseURL = srv.URL

	_, err := c.Complete(context.Background(), "q")
	if !errors.Is(err, provider.ErrOverloaded) {
		t.Fatalf("expected ErrOverloaded, got %v", err)
	}
}

func TestCompleteOtherAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient("k", "m", 1024, time.Second)
	c.baseURL = srv.URL

	_, err := c.Complete(context.Background(), "q")
	if err == nil || errors.Is(err, provider.ErrOverloaded) {
		t.Fatalf("expected plain API error, got %v", err)
	}
}

func TestCompleteEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"content": []interface{}{}})
	}))
	defer srv.Close()

	c := NewClient("k", "m", 1024, time.Second)
	c.baseURL = srv.URL

	if _, err := c.Complete(context.Background(), "q"); err == nil {
		t.Fatalf("expected error for empty content")
	}
}
