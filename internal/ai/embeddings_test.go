package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"neurospace-backend/internal/config"
)

func testEmbeddingConfig(baseURL string) *config.Config {
	return &config.Config{
		NIMAPIKey:         "test-key",
		NIMBaseURL:        baseURL,
		NIMEmbedModel:     "test-embed-model",
		EmbedDimension:    4,
		EmbedMaxRetries:   3,
		EmbedBackoffSecs:  0,
		EmbedConcurrency:  2,
		EmbedBatchPauseMs: 0,
	}
}

func embeddingServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(handler)
}

func writeEmbedding(w http.ResponseWriter, vector []float32) {
	resp := map[string]any{
		"data": []map[string]any{
			{"embedding": vector, "index": 0},
		},
	}
	json.NewEncoder(w).Encode(resp)
}

func TestEmbedSuccess(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		var req embeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.InputType != "passage" {
			t.Errorf("expected passage input type, got %q", req.InputType)
		}
		writeEmbedding(w, []float32{0.1, 0.2, 0.3, 0.4})
	})
	defer srv.Close()

	client := NewEmbeddingClient(testEmbeddingConfig(srv.URL))
	vector, err := client.Embed(context.Background(), "some document text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vector) != 4 {
		t.Errorf("expected 4-dim vector, got %d", len(vector))
	}
}

func TestEmbedQueryInputType(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.InputType != "query" {
			t.Errorf("expected query input type, got %q", req.InputType)
		}
		writeEmbedding(w, []float32{1, 2, 3, 4})
	})
	defer srv.Close()

	client := NewEmbeddingClient(testEmbeddingConfig(srv.URL))
	if _, err := client.EmbedQuery(context.Background(), "what is the refund policy?"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	client := NewEmbeddingClient(testEmbeddingConfig("http://unreachable.invalid"))

	_, err := client.Embed(context.Background(), "   ")
	aiErr, ok := AsError(err)
	if !ok {
		t.Fatalf("expected typed error, got %v", err)
	}
	if aiErr.Code != ErrEmptyInput {
		t.Errorf("expected EMPTY_INPUT, got %s", aiErr.Code)
	}
}

func TestEmbedMissingAPIKey(t *testing.T) {
	cfg := testEmbeddingConfig("http://unreachable.invalid")
	cfg.NIMAPIKey = ""
	client := NewEmbeddingClient(cfg)

	_, err := client.Embed(context.Background(), "text")
	aiErr, ok := AsError(err)
	if !ok || aiErr.Code != ErrMissingAPIKey {
		t.Errorf("expected MISSING_API_KEY, got %v", err)
	}
}

func TestEmbedErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorCode
	}{
		{http.StatusUnauthorized, ErrAuthenticationFailed},
		{http.StatusForbidden, ErrAccessForbidden},
		{http.StatusNotFound, ErrAPIError},
		{http.StatusUnprocessableEntity, ErrAPIError},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})
			defer srv.Close()

			client := NewEmbeddingClient(testEmbeddingConfig(srv.URL))
			_, err := client.Embed(context.Background(), "text")
			aiErr, ok := AsError(err)
			if !ok {
				t.Fatalf("expected typed error, got %v", err)
			}
			if aiErr.Code != tc.want {
				t.Errorf("expected %s, got %s", tc.want, aiErr.Code)
			}
		})
	}
}

func TestEmbedNonTransientFailsWithoutRetry(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	})
	defer srv.Close()

	client := NewEmbeddingClient(testEmbeddingConfig(srv.URL))
	_, err := client.Embed(context.Background(), "text")
	if err == nil {
		t.Fatal("expected error")
	}
	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Errorf("auth failure should not retry, got %d calls", n)
	}
}

func TestEmbedRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEmbedding(w, []float32{1, 2, 3, 4})
	})
	defer srv.Close()

	client := NewEmbeddingClient(testEmbeddingConfig(srv.URL))
	vector, err := client.Embed(context.Background(), "text")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if len(vector) != 4 {
		t.Errorf("unexpected vector length %d", len(vector))
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestEmbedRetriesExhausted(t *testing.T) {
	var calls int32
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	})
	defer srv.Close()

	client := NewEmbeddingClient(testEmbeddingConfig(srv.URL))
	_, err := client.Embed(context.Background(), "text")
	aiErr, ok := AsError(err)
	if !ok || aiErr.Code != ErrRateLimited {
		t.Fatalf("expected RATE_LIMITED after exhausted retries, got %v", err)
	}
	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestEmbedDimensionMismatch(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeEmbedding(w, []float32{1, 2}) // wrong dimension
	})
	defer srv.Close()

	client := NewEmbeddingClient(testEmbeddingConfig(srv.URL))
	_, err := client.Embed(context.Background(), "text")
	aiErr, ok := AsError(err)
	if !ok || aiErr.Code != ErrInvalidResponseFormat {
		t.Errorf("expected INVALID_RESPONSE_FORMAT, got %v", err)
	}
}

func TestEmbedMalformedResponse(t *testing.T) {
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})
	defer srv.Close()

	client := NewEmbeddingClient(testEmbeddingConfig(srv.URL))
	_, err := client.Embed(context.Background(), "text")
	aiErr, ok := AsError(err)
	if !ok || aiErr.Code != ErrInvalidResponseFormat {
		t.Errorf("expected INVALID_RESPONSE_FORMAT, got %v", err)
	}
}

func TestEmbedBatchPositionalAlignment(t *testing.T) {
	// The fake fails any text containing "fail"; everything else gets
	// a vector. Result positions must line up with input positions.
	srv := embeddingServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		json.NewDecoder(r.Body).Decode(&req)
		if strings.Contains(req.Input[0], "fail") {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		writeEmbedding(w, []float32{1, 2, 3, 4})
	})
	defer srv.Close()

	client := NewEmbeddingClient(testEmbeddingConfig(srv.URL))
	texts := []string{"ok one", "fail two", "ok three", "fail four", "ok five"}
	results := client.EmbedBatch(context.Background(), texts)

	if len(results) != len(texts) {
		t.Fatalf("expected %d results, got %d", len(texts), len(results))
	}
	for i, text := range texts {
		shouldFail := strings.Contains(text, "fail")
		if shouldFail && results[i] != nil {
			t.Errorf("position %d should have failed", i)
		}
		if !shouldFail {
			if results[i] == nil {
				t.Errorf("position %d should have a vector", i)
			} else if len(results[i]) != 4 {
				t.Errorf("position %d has %d-dim vector, expected 4", i, len(results[i]))
			}
		}
	}
}

func TestEmbedBatchEmptyInput(t *testing.T) {
	client := NewEmbeddingClient(testEmbeddingConfig("http://unreachable.invalid"))
	results := client.EmbedBatch(context.Background(), nil)
	if len(results) != 0 {
		t.Errorf("expected empty results, got %d", len(results))
	}
}

func TestDimension(t *testing.T) {
	client := NewEmbeddingClient(testEmbeddingConfig("http://unreachable.invalid"))
	if d := client.Dimension(); d != 4 {
		t.Errorf("expected dimension 4, got %d", d)
	}
}
