package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/vantage-ehs/vantage/internal/audit"
	jobmetrics "github.com/vantage-ehs/vantage/internal/jobs"
)

// QueueDefault is the default queue name for background jobs.
const QueueDefault = "default"

const jobDecisionAudit = "decision_audit"

// DecisionWriter persists audit entries pulled off the queue.
type DecisionWriter interface {
	InsertDecision(ctx context.Context, entry audit.DecisionEntry) error
}

// NewDecisionAuditHandler returns the handler for decision audit tasks.
// Malformed payloads are dropped; a write failure is retried by asynq.
// metrics may be nil.
func NewDecisionAuditHandler(writer DecisionWriter, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track(jobDecisionAudit)
		var entry audit.DecisionEntry
		if err := json.Unmarshal(t.Payload(), &entry); err != nil {
			if logger != nil {
				logger.Error("malformed decision audit payload", slog.Any("error", err))
			}
			return tracker.End(asynq.SkipRetry)
		}
		if err := writer.InsertDecision(ctx, entry); err != nil {
			if logger != nil {
				logger.Warn("persist decision audit",
					slog.String("entry_id", entry.ID),
					slog.Any("error", err))
			}
			return tracker.End(err)
		}
		return tracker.End(nil)
	}
}
