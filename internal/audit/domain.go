package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/vantage-ehs/vantage/internal/authz"
)

// TaskTypeDecision is the asynq task type carrying decision audit records
// from the API process to the worker.
const TaskTypeDecision = "authz:decision"

// QueueAudit is the dedicated queue for audit persistence.
const QueueAudit = "audit"

// DecisionEntry is the persisted form of one resolution decision.
type DecisionEntry struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	RequestedBy   string    `json:"requested_by"`
	CapabilityKey string    `json:"capability_key"`
	QueriedScope  string    `json:"queried_scope"`
	Result        string    `json:"result"`
	Source        string    `json:"source"`
	MatchedScope  string    `json:"matched_scope,omitempty"`
	Dangerous     bool      `json:"dangerous"`
	Unscoped      bool      `json:"unscoped"`
	IntegrityNote string    `json:"integrity_note,omitempty"`
	At            time.Time `json:"at"`
}

// EntryFromRecord flattens an engine decision record for transport and
// storage.
func EntryFromRecord(record authz.DecisionRecord) DecisionEntry {
	entry := DecisionEntry{
		ID:            uuid.NewString(),
		UserID:        record.UserID,
		RequestedBy:   record.RequestedBy,
		CapabilityKey: record.Decision.CapabilityKey,
		QueriedScope:  record.Decision.QueriedScope.String(),
		Result:        string(record.Decision.Result),
		Source:        string(record.Decision.Source),
		Dangerous:     record.Decision.Dangerous,
		Unscoped:      record.Decision.Unscoped,
		IntegrityNote: record.Decision.IntegrityNote,
		At:            record.At,
	}
	if record.Decision.MatchedScope != nil {
		entry.MatchedScope = record.Decision.MatchedScope.String()
	}
	return entry
}

// NewDecisionTask wraps an entry into an asynq task bound for QueueAudit.
func NewDecisionTask(entry DecisionEntry) (*asynq.Task, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeDecision, body, asynq.Queue(QueueAudit)), nil
}
