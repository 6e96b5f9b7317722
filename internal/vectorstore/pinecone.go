package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"neurospace-backend/internal/config"
	"neurospace-backend/internal/logger"
)

const (
	controlPlaneURL = "https://api.pinecone.io"

	// Records are submitted in fixed-size batches; a failed batch is
	// reported but does not block the ones after it.
	upsertBatchSize = 100

	// MinBatchSuccessRatio is the floor below which an upsert run is
	// considered failed overall. The 50% threshold is a deliberate
	// policy choice; change it here, not inline.
	MinBatchSuccessRatio = 0.5

	// maxTopK caps similarity query fan-out.
	maxTopK = 100

	indexReadyTimeout  = 60 * time.Second
	indexReadyInterval = 2 * time.Second
)

// Mandatory metadata keys. A record lacking either must never reach
// the index, because retrieval scoping depends on them.
const (
	MetaUserID  = "user_id"
	MetaFileKey = "file_key"
)

// Record is the durable unit stored in the index.
type Record struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

// Match is one ranked result from a similarity query.
type Match struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// UpsertResult distinguishes full, partial, and zero acceptance of an
// upsert run.
type UpsertResult struct {
	Total    int
	Accepted int
	Skipped  int
	Errors   []string

	BatchesTotal  int
	BatchesFailed int
}

// Successful reports whether the run cleared the batch success floor
// and accepted at least one record.
func (r *UpsertResult) Successful() bool {
	if r.Accepted == 0 || r.BatchesTotal == 0 {
		return false
	}
	succeeded := r.BatchesTotal - r.BatchesFailed
	return float64(succeeded)/float64(r.BatchesTotal) >= MinBatchSuccessRatio
}

// PineconeClient talks to a serverless Pinecone index over its REST
// API. EnsureIndex must be called before Upsert/Search/Delete.
type PineconeClient struct {
	httpClient *http.Client

	apiKey    string
	indexName string
	cloud     string
	region    string
	dimension int

	controlPlane string

	// Data-plane host, resolved by EnsureIndex.
	host string
}

func NewPineconeClient(cfg *config.Config) *PineconeClient {
	return &PineconeClient{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		apiKey:       cfg.PineconeAPIKey,
		indexName:    cfg.PineconeIndexName,
		cloud:        cfg.PineconeCloud,
		region:       cfg.PineconeRegion,
		dimension:    cfg.EmbedDimension,
		controlPlane: controlPlaneURL,
	}
}

type indexDescription struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Host      string `json:"host"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

// EnsureIndex looks up the configured index, creating it if absent,
// and waits until it is ready and queryable. A dimension mismatch
// between an existing index and the configured embedding dimension is
// a fatal configuration error, not something to paper over at runtime.
func (pc *PineconeClient) EnsureIndex(ctx context.Context) error {
	desc, err := pc.describeIndex(ctx)
	if err != nil {
		return err
	}

	if desc == nil {
		logger.Info("Vector index not found, creating", "index", pc.indexName, "dimension", pc.dimension)
		if err := pc.createIndex(ctx); err != nil {
			return err
		}
	} else if desc.Dimension != pc.dimension {
		return fmt.Errorf("index %q has dimension %d but the embedding model produces %d: fix the configuration or recreate the index",
			pc.indexName, desc.Dimension, pc.dimension)
	}

	desc, err = pc.waitUntilReady(ctx)
	if err != nil {
		return err
	}
	pc.host = normalizeHost(desc.Host)

	// Probe query to confirm the data plane actually answers before
	// declaring the index usable. The probe must be a unit vector:
	// cosine-metric indexes reject zero-magnitude queries.
	probe := make([]float32, pc.dimension)
	probe[0] = 1
	if _, err := pc.Search(ctx, probe, 1, nil); err != nil {
		return fmt.Errorf("index %q reported ready but probe query failed: %w", pc.indexName, err)
	}

	logger.Info("Vector index ready", "index", pc.indexName, "host", pc.host)
	return nil
}

// describeIndex returns nil without error when the index does not exist.
func (pc *PineconeClient) describeIndex(ctx context.Context) (*indexDescription, error) {
	body, status, err := pc.do(ctx, http.MethodGet, pc.controlPlane+"/indexes/"+pc.indexName, nil)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("describe index returned %d: %s", status, truncate(body))
	}

	var desc indexDescription
	if err := json.Unmarshal(body, &desc); err != nil {
		return nil, fmt.Errorf("failed to decode index description: %w", err)
	}
	return &desc, nil
}

func (pc *PineconeClient) createIndex(ctx context.Context) error {
	payload := map[string]any{
		"name":      pc.indexName,
		"dimension": pc.dimension,
		"metric":    "cosine",
		"spec": map[string]any{
			"serverless": map[string]any{
				"cloud":  pc.cloud,
				"region": pc.region,
			},
		},
	}

	body, status, err := pc.do(ctx, http.MethodPost, pc.controlPlane+"/indexes", payload)
	if err != nil {
		return err
	}
	// 409 means someone else created it between describe and create.
	if status != http.StatusCreated && status != http.StatusOK && status != http.StatusConflict {
		return fmt.Errorf("create index returned %d: %s", status, truncate(body))
	}
	return nil
}

func (pc *PineconeClient) waitUntilReady(ctx context.Context) (*indexDescription, error) {
	deadline := time.Now().Add(indexReadyTimeout)
	for {
		desc, err := pc.describeIndex(ctx)
		if err != nil {
			return nil, err
		}
		if desc != nil && desc.Status.Ready && desc.Host != "" {
			return desc, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("index %q not ready after %s", pc.indexName, indexReadyTimeout)
		}
		select {
		case <-time.After(indexReadyInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Upsert validates and submits records in batches. Invalid records are
// counted as skipped with a recorded reason, never silently dropped; a
// failed batch is recorded and the remaining batches still run.
func (pc *PineconeClient) Upsert(ctx context.Context, records []Record) (*UpsertResult, error) {
	result := &UpsertResult{Total: len(records)}
	if len(records) == 0 {
		return result, nil
	}
	if pc.host == "" {
		return nil, fmt.Errorf("index host not resolved: call EnsureIndex first")
	}

	valid := make([]Record, 0, len(records))
	for i, rec := range records {
		if reason := pc.validateRecord(rec); reason != "" {
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("record %d (%s): %s", i, rec.ID, reason))
			continue
		}
		valid = append(valid, rec)
	}

	for start := 0; start < len(valid); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(valid) {
			end = len(valid)
		}
		batch := valid[start:end]
		result.BatchesTotal++

		if err := pc.upsertBatch(ctx, batch); err != nil {
			result.BatchesFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("batch %d: %v", result.BatchesTotal, err))
			logger.Error("Upsert batch failed", "batch", result.BatchesTotal, "size", len(batch), "error", err)
			continue
		}
		result.Accepted += len(batch)
	}

	logger.Info("Upsert finished",
		"total", result.Total,
		"accepted", result.Accepted,
		"skipped", result.Skipped,
		"batches", result.BatchesTotal,
		"failed_batches", result.BatchesFailed)

	return result, nil
}

func (pc *PineconeClient) validateRecord(rec Record) string {
	if rec.ID == "" {
		return "missing id"
	}
	if len(rec.Values) != pc.dimension {
		return fmt.Sprintf("vector has dimension %d, index expects %d", len(rec.Values), pc.dimension)
	}
	if !hasMetaString(rec.Metadata, MetaUserID) {
		return "missing required metadata key user_id"
	}
	if !hasMetaString(rec.Metadata, MetaFileKey) {
		return "missing required metadata key file_key"
	}
	return ""
}

func hasMetaString(meta map[string]any, key string) bool {
	if meta == nil {
		return false
	}
	s, ok := meta[key].(string)
	return ok && s != ""
}

func (pc *PineconeClient) upsertBatch(ctx context.Context, batch []Record) error {
	payload := map[string]any{"vectors": batch}
	body, status, err := pc.do(ctx, http.MethodPost, pc.host+"/vectors/upsert", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("upsert returned %d: %s", status, truncate(body))
	}
	return nil
}

type queryResponse struct {
	Matches []Match `json:"matches"`
}

// Search runs a filtered nearest-neighbor query. topK is clamped into
// [1, maxTopK]; an unusable filter degrades to unfiltered search.
func (pc *PineconeClient) Search(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]Match, error) {
	if pc.host == "" {
		return nil, fmt.Errorf("index host not resolved: call EnsureIndex first")
	}
	if len(vector) != pc.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index expects %d", len(vector), pc.dimension)
	}

	if topK < 1 {
		topK = 1
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	payload := map[string]any{
		"vector":          vector,
		"topK":            topK,
		"includeMetadata": true,
	}
	if sanitized := BuildFilter(filter); sanitized != nil {
		payload["filter"] = sanitized
	}

	body, status, err := pc.do(ctx, http.MethodPost, pc.host+"/query", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("query returned %d: %s", status, truncate(body))
	}

	var parsed queryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode query response: %w", err)
	}
	return parsed.Matches, nil
}

// Delete removes all records matching the metadata filter, used when a
// document is removed.
func (pc *PineconeClient) Delete(ctx context.Context, filter map[string]any) error {
	if pc.host == "" {
		return fmt.Errorf("index host not resolved: call EnsureIndex first")
	}
	sanitized := BuildFilter(filter)
	if sanitized == nil {
		return fmt.Errorf("refusing to delete without a filter")
	}

	payload := map[string]any{"filter": sanitized}
	body, status, err := pc.do(ctx, http.MethodPost, pc.host+"/vectors/delete", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("delete returned %d: %s", status, truncate(body))
	}
	return nil
}

func (pc *PineconeClient) do(ctx context.Context, method, url string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Api-Key", pc.apiKey)
	req.Header.Set("X-Pinecone-Api-Version", "2024-07")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := pc.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func normalizeHost(host string) string {
	if host == "" {
		return ""
	}
	if len(host) >= 8 && (host[:7] == "http://" || host[:8] == "https://") {
		return host
	}
	return "https://" + host
}

func truncate(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
