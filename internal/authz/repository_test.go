package authz

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestUniqueViolationDetection(t *testing.T) {
	dup := fmt.Errorf("exec insert: %w", &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "permission_overrides_user_id_capability_key_scope_level_sco_key",
	})
	require.True(t, isUniqueViolation(dup))

	require.False(t, isUniqueViolation(errors.New("connection reset by peer")))
	// Foreign-key violations keep their original error.
	require.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	require.False(t, isUniqueViolation(nil))
}
