package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"neurospace-backend/internal/config"
)

func testGenerationConfig(baseURL string) *config.Config {
	return &config.Config{
		NIMAPIKey:    "test-key",
		NIMBaseURL:   baseURL,
		NIMChatModel: "test-chat-model",
	}
}

func TestChatSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request body: %v", err)
		}
		if req.Stream {
			t.Error("non-streaming call set stream=true")
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "The refund window is 30 days."}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewGenerationClient(testGenerationConfig(srv.URL))
	answer, err := client.Chat(context.Background(), GeneralMessages("What is the refund window?", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if answer != "The refund window is 30 days." {
		t.Errorf("unexpected answer %q", answer)
	}
}

func TestChatUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewGenerationClient(testGenerationConfig(srv.URL))
	_, err := client.Chat(context.Background(), GeneralMessages("question", nil))
	aiErr, ok := AsError(err)
	if !ok || aiErr.Code != ErrAuthenticationFailed {
		t.Errorf("expected AUTHENTICATION_FAILED, got %v", err)
	}
}

func TestChatStreamFragments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if !req.Stream {
			t.Error("streaming call did not set stream=true")
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, token := range []string{"The ", "refund ", "window ", "is 30 days."} {
			chunk := map[string]any{
				"choices": []map[string]any{
					{"delta": map[string]any{"content": token}},
				},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewGenerationClient(testGenerationConfig(srv.URL))

	var sb strings.Builder
	err := client.ChatStream(context.Background(), GeneralMessages("question", nil), func(fragment string) error {
		sb.WriteString(fragment)
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sb.String() != "The refund window is 30 days." {
		t.Errorf("unexpected assembled answer %q", sb.String())
	}
}

func TestChatStreamEmitErrorCancels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			chunk := map[string]any{
				"choices": []map[string]any{
					{"delta": map[string]any{"content": "token "}},
				},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	client := NewGenerationClient(testGenerationConfig(srv.URL))

	stopErr := fmt.Errorf("consumer went away")
	count := 0
	err := client.ChatStream(context.Background(), GeneralMessages("question", nil), func(fragment string) error {
		count++
		if count == 2 {
			return stopErr
		}
		return nil
	})
	if err != stopErr {
		t.Errorf("expected emit error to propagate, got %v", err)
	}
	if count != 2 {
		t.Errorf("expected stream to stop after 2 fragments, got %d", count)
	}
}

func TestGroundedMessagesShape(t *testing.T) {
	history := []Message{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}
	messages := GroundedMessages("What now?", "[Source: a.pdf]\nSome context.", history)

	if len(messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(messages))
	}
	if messages[0].Role != "system" {
		t.Errorf("first message should be system, got %s", messages[0].Role)
	}
	last := messages[len(messages)-1]
	if last.Role != "user" {
		t.Errorf("last message should be user, got %s", last.Role)
	}
	if !strings.Contains(last.Content, "[Source: a.pdf]") {
		t.Errorf("context block missing from final message: %q", last.Content)
	}
	if !strings.Contains(last.Content, "What now?") {
		t.Errorf("question missing from final message: %q", last.Content)
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrEmptyInput, http.StatusBadRequest},
		{ErrRateLimited, http.StatusTooManyRequests},
		{ErrTimeout, http.StatusRequestTimeout},
		{ErrServerError, http.StatusBadGateway},
		{ErrAuthenticationFailed, http.StatusInternalServerError},
		{ErrMissingAPIKey, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(newError(tc.code, "x")); got != tc.want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}
