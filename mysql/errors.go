package mysql

import "errors"

var (
	// ErrDBRequired is returned when a nil *sql.DB is provided.
	ErrDBRequired = errors.New("eventfully mysql: db is required")
	// ErrExecutorRequired is returned when enqueue is called with a nil executor.
	ErrExecutorRequired = errors.New("eventfully mysql: executor is required")
	// ErrTableNameRequired is returned when a table name is empty.
	ErrTableNameRequired = errors.New("eventfully mysql: table name is required")
	// ErrInvalidTableName is returned when a table name has disallowed characters.
	ErrInvalidTableName = errors.New("eventfully mysql: invalid table name")
	// ErrSemaphoreLockTimeout is returned when the per-name advisory lock
	// could not be taken in time. Callers treat it as "not acquired".
	ErrSemaphoreLockTimeout = errors.New("eventfully mysql: semaphore lock timeout")
	// ErrCleanupBeforeRequired is returned when CleanupOptions.Before is zero.
	ErrCleanupBeforeRequired = errors.New("eventfully mysql: cleanup before is required")
	// ErrCleanupLimitInvalid is returned when a cleanup limit is negative.
	ErrCleanupLimitInvalid = errors.New("eventfully mysql: cleanup limit is invalid")
	// ErrCleanupRetentionInvalid is returned when the maintainer retention is
	// not positive.
	ErrCleanupRetentionInvalid = errors.New("eventfully mysql: cleanup retention is invalid")
)
