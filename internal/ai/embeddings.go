package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"neurospace-backend/internal/config"
	"neurospace-backend/internal/logger"
)

// Input types the embedding model distinguishes between. Asymmetric
// retrieval models encode documents and queries differently.
const (
	inputTypePassage = "passage"
	inputTypeQuery   = "query"
)

// EmbeddingClient talks to an OpenAI-compatible embeddings endpoint.
type EmbeddingClient struct {
	httpClient *http.Client

	apiKey  string
	baseURL string
	model   string

	dimension  int
	maxRetries int
	backoff    time.Duration

	concurrency int
	batchPause  time.Duration
}

func NewEmbeddingClient(cfg *config.Config) *EmbeddingClient {
	return &EmbeddingClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiKey:      cfg.NIMAPIKey,
		baseURL:     strings.TrimRight(cfg.NIMBaseURL, "/"),
		model:       cfg.NIMEmbedModel,
		dimension:   cfg.EmbedDimension,
		maxRetries:  cfg.EmbedMaxRetries,
		backoff:     time.Duration(cfg.EmbedBackoffSecs) * time.Second,
		concurrency: cfg.EmbedConcurrency,
		batchPause:  time.Duration(cfg.EmbedBatchPauseMs) * time.Millisecond,
	}
}

// Dimension returns the fixed output dimension of the configured
// model. The vector index validates against this at startup.
func (c *EmbeddingClient) Dimension() int {
	return c.dimension
}

// Embed converts document text into an embedding vector. Transient
// failures are retried with linearly increasing backoff; everything
// else fails fast with a typed error.
func (c *EmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, inputTypePassage)
}

// EmbedQuery embeds a search question with query-side encoding.
func (c *EmbeddingClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, text, inputTypeQuery)
}

func (c *EmbeddingClient) embed(ctx context.Context, text, inputType string) ([]float32, error) {
	// Validate before touching the network.
	if strings.TrimSpace(text) == "" {
		return nil, newError(ErrEmptyInput, "input text is empty")
	}
	if c.apiKey == "" {
		return nil, newError(ErrMissingAPIKey, "embedding API key is not configured")
	}

	var lastErr *Error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		vector, err := c.doEmbed(ctx, text, inputType)
		if err == nil {
			return vector, nil
		}

		aiErr, ok := AsError(err)
		if !ok {
			return nil, newError(ErrUnexpected, "embedding call failed: %v", err)
		}
		if !aiErr.IsTransient() || attempt == c.maxRetries {
			return nil, aiErr
		}

		lastErr = aiErr
		wait := time.Duration(attempt) * c.backoff
		logger.Warn("Embedding call failed, retrying",
			"attempt", attempt,
			"max_retries", c.maxRetries,
			"wait", wait.String(),
			"error_code", string(aiErr.Code))

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, newError(ErrTimeout, "embedding canceled during backoff: %v", ctx.Err())
		}
	}

	return nil, lastErr
}

type embeddingRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type"`
	Truncate  string   `json:"truncate"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *EmbeddingClient) doEmbed(ctx context.Context, text, inputType string) ([]float32, error) {
	reqBody := embeddingRequest{
		Model:     c.model,
		Input:     []string{text},
		InputType: inputType,
		Truncate:  "END",
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newError(ErrUnexpected, "failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(payload))
	if err != nil {
		return nil, newError(ErrUnexpected, "failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, newError(ErrConnectionError, "failed to read response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		code := classifyStatus(resp.StatusCode)
		return nil, newError(code, "embedding API returned %d: %s", resp.StatusCode, truncateBody(body))
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, newError(ErrInvalidResponseFormat, "failed to decode response: %v", err)
	}
	if len(parsed.Data) == 0 || len(parsed.Data[0].Embedding) == 0 {
		return nil, newError(ErrInvalidResponseFormat, "response contains no embedding data")
	}

	vector := parsed.Data[0].Embedding
	if len(vector) != c.dimension {
		return nil, newError(ErrInvalidResponseFormat,
			"model returned %d-dimensional vector, expected %d", len(vector), c.dimension)
	}

	return vector, nil
}

// EmbedBatch embeds texts in bounded concurrency groups, pausing
// between groups to stay under upstream rate limits. The result is
// positionally aligned with the input: a failed text resolves to a nil
// vector at its position instead of aborting the batch.
func (c *EmbeddingClient) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	results := make([][]float32, len(texts))
	if len(texts) == 0 {
		return results
	}

	width := c.concurrency
	if width < 1 {
		width = 1
	}

	for groupStart := 0; groupStart < len(texts); groupStart += width {
		groupEnd := groupStart + width
		if groupEnd > len(texts) {
			groupEnd = len(texts)
		}

		var wg sync.WaitGroup
		for i := groupStart; i < groupEnd; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				vector, err := c.Embed(ctx, texts[idx])
				if err != nil {
					logger.Warn("Batch embedding failed for chunk", "index", idx, "error", err)
					return
				}
				results[idx] = vector
			}(i)
		}
		wg.Wait()

		// Deliberate pause between groups: backpressure against the
		// upstream rate limiter, not an incidental delay.
		if groupEnd < len(texts) && c.batchPause > 0 {
			select {
			case <-time.After(c.batchPause):
			case <-ctx.Done():
				logger.Warn("Batch embedding canceled", "completed", groupEnd, "total", len(texts))
				return results
			}
		}
	}

	successful := 0
	for _, v := range results {
		if v != nil {
			successful++
		}
	}
	logger.Info("Batch embedding complete",
		"successful", successful,
		"total", len(texts),
		"failed", len(texts)-successful)

	return results
}

func classifyTransportError(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ErrTimeout, "embedding request timed out: %v", err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(ErrTimeout, "embedding request timed out: %v", err)
	}
	return newError(ErrConnectionError, "failed to reach embedding API: %v", err)
}

func truncateBody(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
