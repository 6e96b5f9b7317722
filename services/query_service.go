package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"neurospace-backend/internal/ai"
	"neurospace-backend/internal/logger"
	"neurospace-backend/internal/vectorstore"
)

// Modes reported in answers and stream headers.
const (
	ModeGrounded = "grounded"
	ModeGeneral  = "general"
)

// maxHistoryTurns bounds how much conversation history reaches the
// model.
const maxHistoryTurns = 6

type queryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type searcher interface {
	Search(ctx context.Context, vector []float32, topK int, filter map[string]any) ([]vectorstore.Match, error)
}

type generator interface {
	Chat(ctx context.Context, messages []ai.Message) (string, error)
	ChatStream(ctx context.Context, messages []ai.Message, emit func(string) error) error
}

// QueryRequest is one question against the user's documents.
type QueryRequest struct {
	UserID        string       `json:"user_id"`
	Question      string       `json:"question"`
	TopK          int          `json:"top_k,omitempty"`
	SelectedFiles []string     `json:"selected_files,omitempty"`
	History       []ai.Message `json:"history,omitempty"`
}

// Reference points an answer back at the chunk it came from.
type Reference struct {
	FileKey    string  `json:"file_key"`
	FileName   string  `json:"file_name"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Text       string  `json:"text,omitempty"`
}

// Answer is a completed (non-streamed) response.
type Answer struct {
	Mode       string      `json:"mode"`
	Answer     string      `json:"answer"`
	References []Reference `json:"references"`
}

// streamHeader is the structured first line of a streamed response,
// emitted before any model tokens so the consumer knows the mode and
// citations up front.
type streamHeader struct {
	Mode       string      `json:"mode"`
	References []Reference `json:"references,omitempty"`
}

// QueryService assembles grounded and general answers.
type QueryService struct {
	embedder  queryEmbedder
	index     searcher
	generator generator

	defaultTopK int
}

func NewQueryService(embedder queryEmbedder, index searcher, gen generator, defaultTopK int) *QueryService {
	return &QueryService{
		embedder:    embedder,
		index:       index,
		generator:   gen,
		defaultTopK: defaultTopK,
	}
}

// Ask answers a question grounded in the user's documents.
func (qs *QueryService) Ask(ctx context.Context, req QueryRequest) (*Answer, error) {
	contextBlock, references, err := qs.retrieve(ctx, req)
	if err != nil {
		return nil, err
	}

	messages := ai.GroundedMessages(req.Question, contextBlock, capHistory(req.History))
	answer, err := qs.generator.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}

	return &Answer{Mode: ModeGrounded, Answer: answer, References: references}, nil
}

// AskGeneral answers without retrieval, for questions outside the
// user's documents.
func (qs *QueryService) AskGeneral(ctx context.Context, req QueryRequest) (*Answer, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("question must not be empty")
	}

	messages := ai.GeneralMessages(req.Question, capHistory(req.History))
	answer, err := qs.generator.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}

	return &Answer{Mode: ModeGeneral, Answer: answer, References: []Reference{}}, nil
}

// AskStream is the streaming form of Ask. The first emitted fragment
// is a JSON header line carrying the mode and references; everything
// after is raw answer text. A mid-stream generation failure becomes a
// terminal error fragment rather than an error raised through an open
// connection.
func (qs *QueryService) AskStream(ctx context.Context, req QueryRequest, emit func(string) error) error {
	contextBlock, references, err := qs.retrieve(ctx, req)
	if err != nil {
		return err
	}

	if err := emitHeader(emit, streamHeader{Mode: ModeGrounded, References: references}); err != nil {
		return err
	}

	messages := ai.GroundedMessages(req.Question, contextBlock, capHistory(req.History))
	qs.streamAnswer(ctx, messages, emit)
	return nil
}

// AskGeneralStream is the streaming form of AskGeneral.
func (qs *QueryService) AskGeneralStream(ctx context.Context, req QueryRequest, emit func(string) error) error {
	if strings.TrimSpace(req.Question) == "" {
		return fmt.Errorf("question must not be empty")
	}

	if err := emitHeader(emit, streamHeader{Mode: ModeGeneral}); err != nil {
		return err
	}

	messages := ai.GeneralMessages(req.Question, capHistory(req.History))
	qs.streamAnswer(ctx, messages, emit)
	return nil
}

// retrieve embeds the question and runs the filtered similarity
// search, returning the source-tagged context block and references.
func (qs *QueryService) retrieve(ctx context.Context, req QueryRequest) (string, []Reference, error) {
	if strings.TrimSpace(req.Question) == "" {
		return "", nil, fmt.Errorf("question must not be empty")
	}

	vector, err := qs.embedder.EmbedQuery(ctx, req.Question)
	if err != nil {
		return "", nil, err
	}

	topK := req.TopK
	if topK <= 0 {
		topK = qs.defaultTopK
	}

	matches, err := qs.index.Search(ctx, vector, topK, BuildQueryFilter(req.UserID, req.SelectedFiles))
	if err != nil {
		return "", nil, fmt.Errorf("similarity search failed: %w", err)
	}

	if len(matches) == 0 {
		return "No relevant content was found in the selected documents.", []Reference{}, nil
	}

	var blocks []string
	references := make([]Reference, 0, len(matches))
	for _, match := range matches {
		fileName := metaString(match.Metadata, "file_name")
		text := metaString(match.Metadata, "text")

		blocks = append(blocks, fmt.Sprintf("[Source: %s]\n%s", fileName, text))
		references = append(references, Reference{
			FileKey:    metaString(match.Metadata, vectorstore.MetaFileKey),
			FileName:   fileName,
			ChunkIndex: metaInt(match.Metadata, "chunk_index"),
			Score:      match.Score,
			Text:       text,
		})
	}

	return strings.Join(blocks, "\n\n"), references, nil
}

// BuildQueryFilter scopes retrieval to the requesting user and,
// optionally, to a subset of their files.
func BuildQueryFilter(userID string, selectedFiles []string) map[string]any {
	filter := map[string]any{
		vectorstore.MetaUserID: map[string]any{"$eq": userID},
	}
	if len(selectedFiles) > 0 {
		filter[vectorstore.MetaFileKey] = map[string]any{"$in": selectedFiles}
	}
	return filter
}

func (qs *QueryService) streamAnswer(ctx context.Context, messages []ai.Message, emit func(string) error) {
	if err := qs.generator.ChatStream(ctx, messages, emit); err != nil {
		logger.Error("Generation stream failed", "error", err)
		// Best effort: the consumer may already be gone.
		_ = emit("\n[Error: answer generation was interrupted. Please try again.]")
	}
}

func emitHeader(emit func(string) error, header streamHeader) error {
	encoded, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to encode stream header: %w", err)
	}
	return emit(string(encoded) + "\n")
}

func capHistory(history []ai.Message) []ai.Message {
	if len(history) <= maxHistoryTurns {
		return history
	}
	return history[len(history)-maxHistoryTurns:]
}

func metaString(meta map[string]any, key string) string {
	if meta == nil {
		return ""
	}
	s, _ := meta[key].(string)
	return s
}

func metaInt(meta map[string]any, key string) int {
	if meta == nil {
		return 0
	}
	switch v := meta[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
