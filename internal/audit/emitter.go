package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/vantage-ehs/vantage/internal/authz"
)

// TaskEnqueuer abstracts the asynq client so the emitter can be tested
// without Redis.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// failureCounter matches prometheus.Counter; a failed enqueue is a health
// signal, never a resolve failure.
type failureCounter interface {
	Inc()
}

// Emitter hands decision records to the audit queue, fire-and-forget.
type Emitter struct {
	client   TaskEnqueuer
	failures failureCounter
	logger   *slog.Logger
}

// NewEmitter constructs the asynq-backed emitter. failures may be nil.
func NewEmitter(client TaskEnqueuer, failures failureCounter, logger *slog.Logger) *Emitter {
	return &Emitter{client: client, failures: failures, logger: logger}
}

// Emit implements authz.Emitter.
func (e *Emitter) Emit(ctx context.Context, record authz.DecisionRecord) error {
	entry := EntryFromRecord(record)
	task, err := NewDecisionTask(entry)
	if err != nil {
		return fmt.Errorf("audit: build decision task: %w", err)
	}
	if _, err := e.client.EnqueueContext(ctx, task); err != nil {
		if e.failures != nil {
			e.failures.Inc()
		}
		if e.logger != nil {
			e.logger.Warn("enqueue decision audit",
				slog.String("user_id", entry.UserID),
				slog.String("capability", entry.CapabilityKey),
				slog.Any("error", err))
		}
		return fmt.Errorf("audit: enqueue decision: %w", err)
	}
	return nil
}
