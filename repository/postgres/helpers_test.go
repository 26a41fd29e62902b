package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/tenantauth/domain"
)

func TestUniqueViolationUsesConstraintName(t *testing.T) {
	violation := func(constraint string) error {
		return fmt.Errorf("insert: %w", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: constraint})
	}

	require.ErrorIs(t, uniqueViolation(violation("users_tenant_email_key")), domain.ErrEmailTaken)
	require.ErrorIs(t, uniqueViolation(violation("users_oauth_subject_idx")), domain.ErrExternalLinked)
	require.ErrorIs(t, uniqueViolation(violation("roles_tenant_name_idx")), domain.ErrRoleNameTaken)
	require.NoError(t, uniqueViolation(violation("users_reset_token_idx")))
	require.NoError(t, uniqueViolation(&pgconn.PgError{Code: pgForeignKeyMissing, ConstraintName: "users_tenant_email_key"}))
	require.NoError(t, uniqueViolation(errors.New("conn reset")))
	require.NoError(t, uniqueViolation(nil))
}

func TestStoreErrorTagsServerFailures(t *testing.T) {
	err := storeError("users.insert", &pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "users_reset_token_idx"})
	var sErr *domain.ServiceError
	require.ErrorAs(t, err, &sErr)
	require.Equal(t, pgUniqueViolation, sErr.Code)
	require.Equal(t, "users.insert", sErr.Path)
}
