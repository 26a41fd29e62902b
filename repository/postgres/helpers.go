package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fastygo/tenantauth/domain"
)

const (
	serviceName         = "postgres"
	pgUniqueViolation   = "23505"
	pgForeignKeyMissing = "23503"
)

// Unique constraints with a domain meaning. Violations of any other unique
// index stay store failures.
var uniqueConstraints = map[string]error{
	"users_tenant_email_key":  domain.ErrEmailTaken,
	"users_oauth_subject_idx": domain.ErrExternalLinked,
	"roles_tenant_name_idx":   domain.ErrRoleNameTaken,
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func marshalMap(data map[string]string) []byte {
	if len(data) == 0 {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return b
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 100
	}
	return limit
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// uniqueViolation maps a unique violation on a known constraint to its
// domain error. It returns nil for anything else.
func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return nil
	}
	return uniqueConstraints[pgErr.ConstraintName]
}

// storeError tags server-side failures with the SQLSTATE and the failing
// statement. Context errors pass through for the caller to classify.
func storeError(path string, err error) error {
	if err == nil {
		return nil
	}
	if code := pgCode(err); code != "" {
		return domain.ServiceFailure(serviceName, code, path, err)
	}
	return err
}
