package openai_provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func embeddingServer(t *testing.T, dims int, handler func(req map[string]interface{})) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if handler != nil {
			handler(req)
		}
		inputs, _ := req["input"].([]interface{})
		data := make([]map[string]interface{}, len(inputs))
		for i := range inputs {
			vec := make([]float32, dims)
			vec[0] = float32(i + 1)
			data[i] = map[string]interface{}{"embedding": vec, "index": i}
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func TestEmbedManyOrderedVectors(t *testing.T) {
	var gotModel string
	srv := embeddingServer(t, 4, func(req map[string]interface{}) {
		gotModel, _ = req["model"].(string)
	})
	defer srv.Close()

	c := NewClient("key", "text-embedding-3-small", 4, 5*time.Second)
	c.baseURL = srv.URL

	vecs, err := c.EmbedMany(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("EmbedMany: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
	if vecs[0][0] != 1 || vecs[1][0] != 2 {
		t.Fatalf("vectors out of order: %v", vecs)
	}
	if gotModel != "text-embedding-3-small" {
		t.Fatalf("unexpected model %q", gotModel)
	}
}

func TestEmbedRejectsDimensionMismatch(t *testing.T) {
	srv := embeddingServer(t, 3, nil)
	defer srv.Close()

	c := NewClient("key", "m", 1536, 5*time.Second)
	c.baseURL = srv.URL

	if _, err := c.EmbedOne(context.Background(), "text"); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	c := NewClient("key", "m", 4, time.Second)
	if _, err := c.EmbedOne(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty text")
	}
	if _, err := c.EmbedMany(context.Background(), nil); err == nil {
		t.Fatalf("expected error for empty list")
	}
	if _, err := c.EmbedMany(context.Background(), []string{"ok", ""}); err == nil {
		t.Fatalf("expected error for empty element")
	}
}

func TestEmbedSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("key", "m", 4, time.Second)
	c.baseURL = srv.URL
	if _, err := c.EmbedOne(context.Background(), "text"); err == nil {
		t.Fatalf("expected error for non-200 response")
	}
}
