package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/vantage-ehs/vantage/internal/audit"
)

type stubWriter struct {
	entries []audit.DecisionEntry
	err     error
}

func (s *stubWriter) InsertDecision(_ context.Context, entry audit.DecisionEntry) error {
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, entry)
	return nil
}

func TestDecisionAuditHandlerPersistsEntry(t *testing.T) {
	writer := &stubWriter{}
	handler := NewDecisionAuditHandler(writer, nil, nil)

	entry := audit.DecisionEntry{ID: "e-1", UserID: "u-1", CapabilityKey: "permits.approve", Result: "deny"}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)

	err = handler(context.Background(), asynq.NewTask(audit.TaskTypeDecision, payload))
	require.NoError(t, err)
	require.Len(t, writer.entries, 1)
	require.Equal(t, "e-1", writer.entries[0].ID)
}

func TestDecisionAuditHandlerSkipsMalformedPayload(t *testing.T) {
	handler := NewDecisionAuditHandler(&stubWriter{}, nil, nil)
	err := handler(context.Background(), asynq.NewTask(audit.TaskTypeDecision, []byte("{broken")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestDecisionAuditHandlerRetriesOnWriteFailure(t *testing.T) {
	dbErr := errors.New("db down")
	handler := NewDecisionAuditHandler(&stubWriter{err: dbErr}, nil, nil)

	entry := audit.DecisionEntry{ID: "e-2"}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)

	err = handler(context.Background(), asynq.NewTask(audit.TaskTypeDecision, payload))
	require.ErrorIs(t, err, dbErr)
	require.NotErrorIs(t, err, asynq.SkipRetry)
}
