package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/hibiken/asynq"

	"neurospace-backend/services"
)

type fakeProcessor struct {
	processErr error
	processed  []services.ProcessRequest

	failed      []services.ProcessRequest
	failReasons []string
}

func (f *fakeProcessor) ProcessFile(ctx context.Context, req services.ProcessRequest) error {
	f.processed = append(f.processed, req)
	return f.processErr
}

func (f *fakeProcessor) MarkFailed(ctx context.Context, req services.ProcessRequest, reason string) {
	f.failed = append(f.failed, req)
	f.failReasons = append(f.failReasons, reason)
}

func fileProcessTask(t *testing.T) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(FileProcessPayload{
		FileKey:     "uploads/u1/doc.txt",
		FileName:    "doc.txt",
		UserID:      "u1",
		ContentType: "text/plain",
		JobID:       "656f1f77bcf86cd799439011",
	})
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	return asynq.NewTask(TypeFileProcess, payload)
}

func TestHandleFileProcessTerminalSkipsRetry(t *testing.T) {
	proc := &fakeProcessor{processErr: fmt.Errorf("no extractable text: %w", services.ErrTerminal)}
	tp := NewTaskProcessor(proc)

	err := tp.HandleFileProcess(context.Background(), fileProcessTask(t))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("terminal failure must not be retried, got %v", err)
	}
}

func TestHandleFileProcessTransientPropagates(t *testing.T) {
	proc := &fakeProcessor{processErr: errors.New("object store unavailable")}
	tp := NewTaskProcessor(proc)

	err := tp.HandleFileProcess(context.Background(), fileProcessTask(t))
	if err == nil {
		t.Fatal("transient failure must surface for redelivery")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatal("transient failure must not skip retry")
	}
	if len(proc.processed) != 1 || proc.processed[0].FileKey != "uploads/u1/doc.txt" {
		t.Errorf("unexpected processed requests: %+v", proc.processed)
	}
}

func TestHandleFileProcessBadPayloadSkipsRetry(t *testing.T) {
	proc := &fakeProcessor{}
	tp := NewTaskProcessor(proc)

	err := tp.HandleFileProcess(context.Background(), asynq.NewTask(TypeFileProcess, []byte("{not json")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("unreadable payload must not be retried, got %v", err)
	}
	if len(proc.processed) != 0 {
		t.Error("unreadable payload must not reach the orchestrator")
	}
}

func TestHandleErrorFinalizesOnRetryExhaustion(t *testing.T) {
	proc := &fakeProcessor{}
	tp := NewTaskProcessor(proc)

	tp.handleError(fileProcessTask(t), errors.New("object store unavailable"), 3, 3)

	if len(proc.failed) != 1 {
		t.Fatalf("expected one finalized failure, got %d", len(proc.failed))
	}
	req := proc.failed[0]
	if req.FileKey != "uploads/u1/doc.txt" || req.UserID != "u1" || req.JobID != "656f1f77bcf86cd799439011" {
		t.Errorf("finalized request lost payload fields: %+v", req)
	}
	if !strings.Contains(proc.failReasons[0], "after 4 attempts") {
		t.Errorf("reason should count attempts, got %q", proc.failReasons[0])
	}
	if !strings.Contains(proc.failReasons[0], "object store unavailable") {
		t.Errorf("reason should carry the underlying error, got %q", proc.failReasons[0])
	}
}

func TestHandleErrorLeavesRemainingRetriesAlone(t *testing.T) {
	proc := &fakeProcessor{}
	tp := NewTaskProcessor(proc)

	tp.handleError(fileProcessTask(t), errors.New("object store unavailable"), 1, 3)

	if len(proc.failed) != 0 {
		t.Error("a failure with retries left must not be finalized")
	}
}

func TestHandleErrorSkipsAlreadyFinalizedFailures(t *testing.T) {
	proc := &fakeProcessor{}
	tp := NewTaskProcessor(proc)

	// Terminal failures are recorded by the handler before it returns
	// SkipRetry; finalizing again would overwrite the precise reason.
	tp.handleError(fileProcessTask(t), fmt.Errorf("no extractable text: %w", asynq.SkipRetry), 3, 3)

	if len(proc.failed) != 0 {
		t.Error("terminal failures must not be finalized twice")
	}
}

func TestHandleErrorIgnoresOtherTaskTypes(t *testing.T) {
	proc := &fakeProcessor{}
	tp := NewTaskProcessor(proc)

	tp.handleError(asynq.NewTask("email:send", []byte(`{}`)), errors.New("boom"), 3, 3)

	if len(proc.failed) != 0 {
		t.Error("unrelated task types must not touch document state")
	}
}
