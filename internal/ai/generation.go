package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"

	"neurospace-backend/internal/config"
	"neurospace-backend/internal/logger"
)

const (
	groundedSystemPrompt = "You are a helpful assistant answering questions about the user's documents. " +
		"Answer using ONLY the provided context. Cite the source file when it helps. " +
		"If the context does not contain the information needed to answer, say that you " +
		"don't have sufficient information in the selected documents."

	generalSystemPrompt = "You are a helpful assistant. Answer the user's question directly and concisely. " +
		"Do not claim to have consulted any documents."
)

// Message is one role-tagged turn in a chat exchange.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerationClient talks to an OpenAI-compatible chat completions
// endpoint, guarded by a circuit breaker and a client-side rate
// limiter so a degraded upstream doesn't take the whole service down
// with it.
type GenerationClient struct {
	httpClient  *http.Client
	apiKey      string
	baseURL     string
	model       string
	breaker     *gobreaker.CircuitBreaker
	rateLimiter *rate.Limiter
}

func NewGenerationClient(cfg *config.Config) *GenerationClient {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ChatCompletionsAPI",
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
		},
	})

	// Conservative client-side ceiling, below the upstream RPM limit.
	rateLimiter := rate.NewLimiter(rate.Limit(0.9), 5)

	return &GenerationClient{
		httpClient: &http.Client{
			// Streaming responses can run for minutes.
			Timeout: 5 * time.Minute,
		},
		apiKey:      cfg.NIMAPIKey,
		baseURL:     strings.TrimRight(cfg.NIMBaseURL, "/"),
		model:       cfg.NIMChatModel,
		breaker:     breaker,
		rateLimiter: rateLimiter,
	}
}

// GroundedMessages builds the chat exchange for a context-constrained
// answer. Each context chunk arrives already tagged with its source
// file name.
func GroundedMessages(question, contextBlock string, history []Message) []Message {
	messages := []Message{{Role: "system", Content: groundedSystemPrompt}}
	messages = append(messages, history...)
	messages = append(messages, Message{
		Role:    "user",
		Content: fmt.Sprintf("Context:\n%s\n\nQuestion: %s", contextBlock, question),
	})
	return messages
}

// GeneralMessages builds the chat exchange for an ungrounded answer.
func GeneralMessages(question string, history []Message) []Message {
	messages := []Message{{Role: "system", Content: generalSystemPrompt}}
	messages = append(messages, history...)
	messages = append(messages, Message{Role: "user", Content: question})
	return messages
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Chat runs a non-streaming completion and returns the full answer.
func (gc *GenerationClient) Chat(ctx context.Context, messages []Message) (string, error) {
	tracer := otel.Tracer("generation-client")
	ctx, span := tracer.Start(ctx, "generation.chat")
	defer span.End()

	span.SetAttributes(
		attribute.String("generation.model", gc.model),
		attribute.Int("generation.messages", len(messages)),
	)

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("generation.rate_limited", true))
		return "", newError(ErrRateLimited, "client-side rate limit: %v", err)
	}

	result, err := gc.breaker.Execute(func() (interface{}, error) {
		resp, err := gc.send(ctx, messages, false)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, newError(ErrConnectionError, "failed to read response: %v", err)
		}

		var parsed chatResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, newError(ErrInvalidResponseFormat, "failed to decode response: %v", err)
		}
		if len(parsed.Choices) == 0 {
			return nil, newError(ErrInvalidResponseFormat, "response contains no choices")
		}
		return parsed.Choices[0].Message.Content, nil
	})

	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			span.SetAttributes(attribute.Bool("generation.circuit_breaker_open", true))
			return "", newError(ErrServerError, "generation service temporarily unavailable")
		}
		span.SetAttributes(attribute.Bool("generation.error", true))
		if aiErr, ok := AsError(err); ok {
			return "", aiErr
		}
		return "", newError(ErrUnexpected, "generation failed: %v", err)
	}

	span.SetAttributes(attribute.Bool("generation.success", true))
	return result.(string), nil
}

// ChatStream runs a streaming completion, invoking emit for each text
// fragment as it arrives. An emit error cancels the stream.
func (gc *GenerationClient) ChatStream(ctx context.Context, messages []Message, emit func(fragment string) error) error {
	tracer := otel.Tracer("generation-client")
	ctx, span := tracer.Start(ctx, "generation.chat_stream")
	defer span.End()

	span.SetAttributes(
		attribute.String("generation.model", gc.model),
		attribute.Int("generation.messages", len(messages)),
	)

	if err := gc.rateLimiter.Wait(ctx); err != nil {
		span.SetAttributes(attribute.Bool("generation.rate_limited", true))
		return newError(ErrRateLimited, "client-side rate limit: %v", err)
	}

	// The breaker only guards connection setup. Holding it open for
	// the whole stream would starve concurrent callers.
	result, err := gc.breaker.Execute(func() (interface{}, error) {
		return gc.send(ctx, messages, true)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			span.SetAttributes(attribute.Bool("generation.circuit_breaker_open", true))
			return newError(ErrServerError, "generation service temporarily unavailable")
		}
		span.SetAttributes(attribute.Bool("generation.error", true))
		if aiErr, ok := AsError(err); ok {
			return aiErr
		}
		return newError(ErrUnexpected, "generation failed: %v", err)
	}

	resp := result.(*http.Response)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			logger.Warn("Skipping malformed stream chunk", "error", err)
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		if err := emit(chunk.Choices[0].Delta.Content); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		span.SetAttributes(attribute.Bool("generation.error", true))
		return newError(ErrConnectionError, "stream interrupted: %v", err)
	}

	span.SetAttributes(attribute.Bool("generation.success", true))
	return nil
}

// send issues the chat completions request and classifies failures
// into the shared error taxonomy. A non-2xx body is consumed so the
// connection can be reused.
func (gc *GenerationClient) send(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	if gc.apiKey == "" {
		return nil, newError(ErrMissingAPIKey, "generation API key is not configured")
	}

	payload, err := json.Marshal(chatRequest{
		Model:       gc.model,
		Messages:    messages,
		Temperature: 0.7,
		MaxTokens:   2048,
		Stream:      stream,
	})
	if err != nil {
		return nil, newError(ErrUnexpected, "failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, gc.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, newError(ErrUnexpected, "failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+gc.apiKey)
	if stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	resp, err := gc.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		code := classifyStatus(resp.StatusCode)
		return nil, newError(code, "chat API returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	return resp, nil
}
