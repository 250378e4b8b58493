package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cfrenzel/eventfully"
)

const (
	defaultCleanupLimit      = 10000
	defaultCleanupEvery      = time.Hour
	defaultCleanupLockPrefix = "eventfully:cleanup:"
)

// CleanupOptions defines how terminal rows are removed from the outbox and
// saga tables.
type CleanupOptions struct {
	// Before removes rows last touched before this timestamp (required).
	Before time.Time
	// Limit caps the number of outbox rows deleted per call (0 uses the
	// default).
	Limit int
	// IncludeDead removes dead rows in addition to completed rows.
	IncludeDead bool
	// IncludeSagas removes saga states not updated since Before. Terminal
	// saga detection is the host's concern; retention is the only filter.
	IncludeSagas bool
}

// CleanupResult reports how many rows were removed.
type CleanupResult struct {
	Completed int64
	Dead      int64
	Sagas     int64
}

// Cleanup removes completed rows (and optionally dead rows and stale saga
// states) older than opts.Before.
func (s *Store) Cleanup(ctx context.Context, opts CleanupOptions) (CleanupResult, error) {
	if opts.Before.IsZero() {
		return CleanupResult{}, ErrCleanupBeforeRequired
	}
	limit := opts.Limit
	if limit == 0 {
		limit = defaultCleanupLimit
	}
	if limit < 0 {
		return CleanupResult{}, ErrCleanupLimitInvalid
	}

	var result CleanupResult
	var err error

	remaining := limit
	result.Completed, err = s.cleanupByStatus(ctx, eventfully.StatusCompleted, opts.Before, remaining)
	if err != nil {
		return CleanupResult{}, err
	}
	remaining -= int(result.Completed)

	if opts.IncludeDead && remaining > 0 {
		result.Dead, err = s.cleanupByStatus(ctx, eventfully.StatusDead, opts.Before, remaining)
		if err != nil {
			return CleanupResult{}, err
		}
	}

	if opts.IncludeSagas {
		result.Sagas, err = s.cleanupSagas(ctx, opts.Before, limit)
		if err != nil {
			return CleanupResult{}, err
		}
	}

	return result, nil
}

func (s *Store) cleanupByStatus(ctx context.Context, status eventfully.Status, before time.Time, limit int) (int64, error) {
	if limit <= 0 {
		return 0, nil
	}

	// #nosec G201 -- table name is sanitized at construction.
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE status = ? AND updated_at <= ? ORDER BY id LIMIT ?",
		s.table,
	)
	res, err := s.db.ExecContext(ctx, query, int16(status), before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("eventfully mysql: cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("eventfully mysql: cleanup rows failed: %w", err)
	}

	return affected, nil
}

func (s *Store) cleanupSagas(ctx context.Context, before time.Time, limit int) (int64, error) {
	// #nosec G201 -- table name is sanitized at construction.
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE updated_at <= ? ORDER BY saga_type, correlation_id LIMIT ?",
		s.sagaTable,
	)
	res, err := s.db.ExecContext(ctx, query, before.UTC(), limit)
	if err != nil {
		return 0, fmt.Errorf("eventfully mysql: saga cleanup delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("eventfully mysql: saga cleanup rows failed: %w", err)
	}

	return affected, nil
}

// CleanupMaintainerConfig controls periodic retention cleanup.
type CleanupMaintainerConfig struct {
	// Table is the outbox table name.
	Table string
	// SagaTable is the saga state table name.
	SagaTable string
	// Retention removes rows older than now-retention (required).
	Retention time.Duration
	// CheckEvery is the interval between cleanup runs.
	CheckEvery time.Duration
	// Limit caps the number of rows deleted per run (0 uses the default).
	Limit int
	// IncludeDead removes dead rows in addition to completed rows.
	IncludeDead bool
	// IncludeSagas removes saga states not updated within the retention
	// window.
	IncludeSagas bool
	// LockName is the advisory lock name. Defaults to
	// eventfully:cleanup:<table>.
	LockName string
	// Clock overrides the time source.
	Clock eventfully.Clock
	// Logger receives warnings about cleanup failures.
	Logger eventfully.Logger
}

// CleanupMaintainer runs periodic retention cleanup. One instance per process
// is enough; a MySQL advisory lock keeps concurrent processes from doing
// redundant work.
type CleanupMaintainer struct {
	store *Store
	cfg   CleanupMaintainerConfig
}

// NewCleanupMaintainer creates a cleanup maintainer with defaults applied.
func NewCleanupMaintainer(db *sql.DB, cfg CleanupMaintainerConfig) (*CleanupMaintainer, error) {
	if db == nil {
		return nil, ErrDBRequired
	}
	if cfg.Retention <= 0 {
		return nil, ErrCleanupRetentionInvalid
	}
	if cfg.Clock == nil {
		cfg.Clock = eventfully.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = eventfully.NopLogger{}
	}
	if cfg.CheckEvery <= 0 {
		cfg.CheckEvery = defaultCleanupEvery
	}
	if cfg.Limit == 0 {
		cfg.Limit = defaultCleanupLimit
	}
	if cfg.Limit < 0 {
		return nil, ErrCleanupLimitInvalid
	}

	opts := []Option{WithClock(cfg.Clock)}
	if cfg.Table != "" {
		opts = append(opts, WithTable(cfg.Table))
	}
	if cfg.SagaTable != "" {
		opts = append(opts, WithSagaTable(cfg.SagaTable))
	}
	store, err := NewStore(db, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.LockName == "" {
		cfg.LockName = defaultCleanupLockPrefix + store.table
	}

	return &CleanupMaintainer{store: store, cfg: cfg}, nil
}

// Run periodically deletes old terminal rows until the context is canceled.
func (m *CleanupMaintainer) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.CheckEvery)
	defer ticker.Stop()

	if _, err := m.Ensure(ctx); err != nil {
		m.cfg.Logger.Warn("outbox cleanup failed", "err", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Ensure(ctx); err != nil {
				m.cfg.Logger.Warn("outbox cleanup failed", "err", err)
			}
		}
	}
}

// Ensure executes a single cleanup pass, skipping silently when another
// session holds the cleanup lock.
func (m *CleanupMaintainer) Ensure(ctx context.Context) (CleanupResult, error) {
	conn, err := m.store.db.Conn(ctx)
	if err != nil {
		return CleanupResult{}, fmt.Errorf("eventfully mysql: cleanup conn failed: %w", err)
	}
	defer conn.Close()

	locked, err := m.tryLock(ctx, conn)
	if err != nil {
		return CleanupResult{}, err
	}
	if !locked {
		m.cfg.Logger.Debug("outbox cleanup lock held by another session")

		return CleanupResult{}, nil
	}
	defer m.releaseLock(ctx, conn)

	before := m.cfg.Clock.Now().Add(-m.cfg.Retention)

	return m.store.Cleanup(ctx, CleanupOptions{
		Before:       before,
		Limit:        m.cfg.Limit,
		IncludeDead:  m.cfg.IncludeDead,
		IncludeSagas: m.cfg.IncludeSagas,
	})
}

func (m *CleanupMaintainer) tryLock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, 0)", m.cfg.LockName).Scan(&got); err != nil {
		return false, fmt.Errorf("eventfully mysql: acquire cleanup lock failed: %w", err)
	}
	if !got.Valid || got.Int64 == 0 {
		return false, nil
	}

	return true, nil
}

func (m *CleanupMaintainer) releaseLock(ctx context.Context, conn *sql.Conn) {
	var released sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", m.cfg.LockName).Scan(&released); err != nil {
		m.cfg.Logger.Warn("outbox cleanup release lock failed", "err", err)
	}
}
