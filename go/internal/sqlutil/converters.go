package sqlutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sqlc-dev/pqtype"
)

// Postgres error codes the repositories branch on.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeQueryCanceled        = "57014"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports a unique index conflict.
func IsUniqueViolation(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

// IsLockContention reports errors caused by waiting on or fighting over row locks.
// lock_timeout surfaces as 55P03; statement_timeout while waiting as 57014.
func IsLockContention(err error) bool {
	switch pgCode(err) {
	case codeLockNotAvailable, codeSerializationFailure, codeDeadlockDetected, codeQueryCanceled:
		return true
	}
	return false
}

// LockTimeoutStatement builds a SET LOCAL lock_timeout for the current tx.
func LockTimeoutStatement(d time.Duration) string {
	if d <= 0 {
		d = 2 * time.Second
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", d.Milliseconds())
}

// ToNullRawMessage converts raw JSON bytes to pqtype.NullRawMessage
func ToNullRawMessage(raw []byte) pqtype.NullRawMessage {
	if len(raw) == 0 || !json.Valid(raw) {
		return pqtype.NullRawMessage{Valid: false}
	}
	return pqtype.NullRawMessage{RawMessage: raw, Valid: true}
}

// FromNullRawMessage converts pqtype.NullRawMessage to raw JSON bytes
func FromNullRawMessage(val pqtype.NullRawMessage) []byte {
	if !val.Valid {
		return nil
	}
	return val.RawMessage
}
