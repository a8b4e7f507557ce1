package dbx

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL SQLSTATE codes the repositories translate into domain errors.
const (
	codeUniqueViolation    = "23505"
	codeExclusionViolation = "23P01"
	codeSerialization      = "40001"
	codeDeadlock           = "40P01"
)

// PgCode returns the SQLSTATE of a PostgreSQL error anywhere in err's chain,
// or "" if err did not come from the server.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return PgCode(err) == codeUniqueViolation
}

// IsExclusionViolation reports an EXCLUDE constraint hit, which is how
// overlapping block ranges surface from concurrent inserts.
func IsExclusionViolation(err error) bool {
	return PgCode(err) == codeExclusionViolation
}

// IsRetryable reports a transaction aborted by the server because of a
// serialization failure or a deadlock.
func IsRetryable(err error) bool {
	switch PgCode(err) {
	case codeSerialization, codeDeadlock:
		return true
	}
	return false
}
