package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cfrenzel/eventfully"
)

const (
	defaultSemaphoreTable = "outbox_semaphore_leases"

	// lockWaitSeconds bounds how long TryAcquire waits for the per-name
	// advisory lock before giving up.
	lockWaitSeconds = 2
)

// SemaphoreConfig carries MySQL-specific semaphore settings.
type SemaphoreConfig struct {
	// Table is the lease table name.
	Table string
	// Clock provides current time.
	Clock eventfully.Clock
}

func (c SemaphoreConfig) withDefaults() SemaphoreConfig {
	if c.Table == "" {
		c.Table = defaultSemaphoreTable
	}
	if c.Clock == nil {
		c.Clock = eventfully.SystemClock{}
	}

	return c
}

// SemaphoreOption customizes semaphore construction.
type SemaphoreOption func(*SemaphoreConfig)

// WithSemaphoreTable overrides the lease table name.
func WithSemaphoreTable(table string) SemaphoreOption {
	return func(c *SemaphoreConfig) {
		c.Table = table
	}
}

// WithSemaphoreClock overrides the time source.
func WithSemaphoreClock(clock eventfully.Clock) SemaphoreOption {
	return func(c *SemaphoreConfig) {
		c.Clock = clock
	}
}

type semaphoreQueries struct {
	reclaim string
	count   string
	insert  string
	renew   string
	release string
	list    string
}

func newSemaphoreQueries(table string) semaphoreQueries {
	return semaphoreQueries{
		reclaim: fmt.Sprintf("DELETE FROM %s WHERE name = ? AND expires_at <= ?", table),
		count:   fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE name = ?", table),
		insert: fmt.Sprintf(
			"INSERT INTO %s (name, owner_id, expires_at) VALUES (?, ?, ?) ON DUPLICATE KEY UPDATE expires_at = VALUES(expires_at)",
			table,
		),
		renew:   fmt.Sprintf("UPDATE %s SET expires_at = ? WHERE name = ? AND owner_id = ? AND expires_at > ?", table),
		release: fmt.Sprintf("DELETE FROM %s WHERE name = ? AND owner_id = ?", table),
		list:    fmt.Sprintf("SELECT owner_id, expires_at FROM %s WHERE name = ? AND expires_at > ? ORDER BY owner_id", table),
	}
}

// Semaphore implements a distributed counting semaphore over a MySQL lease
// table. Capacity checks are serialized per semaphore name with GET_LOCK so
// concurrent acquirers never overshoot MaxConcurrentOwners.
type Semaphore struct {
	db       *sql.DB
	settings eventfully.SemaphoreSettings
	cfg      SemaphoreConfig
	queries  semaphoreQueries
	lockName string
}

var _ eventfully.Semaphore = (*Semaphore)(nil)

// NewSemaphore constructs a MySQL-backed semaphore.
func NewSemaphore(db *sql.DB, settings eventfully.SemaphoreSettings, opts ...SemaphoreOption) (*Semaphore, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg SemaphoreConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	cfg.Table = table
	settings = settings.WithDefaults()

	return &Semaphore{
		db:       db,
		settings: settings,
		cfg:      cfg,
		queries:  newSemaphoreQueries(table),
		lockName: "eventfully_semaphore_" + settings.Name,
	}, nil
}

// TryAcquire reclaims expired leases and grants a lease when the owner count
// is below capacity. Re-acquiring an existing lease refreshes its expiry.
func (s *Semaphore) TryAcquire(ctx context.Context, ownerID string) (bool, error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("eventfully mysql: semaphore connection failed: %w", err)
	}
	defer conn.Close()

	locked, err := s.lock(ctx, conn)
	if err != nil {
		return false, err
	}
	if !locked {
		return false, ErrSemaphoreLockTimeout
	}
	defer s.unlock(conn)

	now := s.cfg.Clock.Now()
	if _, err := conn.ExecContext(ctx, s.queries.reclaim, s.settings.Name, now); err != nil {
		return false, fmt.Errorf("eventfully mysql: lease reclaim failed: %w", err)
	}

	var owners int
	if err := conn.QueryRowContext(ctx, s.queries.count, s.settings.Name).Scan(&owners); err != nil {
		return false, fmt.Errorf("eventfully mysql: lease count failed: %w", err)
	}
	if owners >= s.settings.MaxConcurrentOwners && !s.holdsLease(ctx, conn, ownerID, now) {
		return false, nil
	}

	expiresAt := now.Add(s.settings.Timeout)
	if _, err := conn.ExecContext(ctx, s.queries.insert, s.settings.Name, ownerID, expiresAt); err != nil {
		return false, fmt.Errorf("eventfully mysql: lease insert failed: %w", err)
	}

	return true, nil
}

// TryRenew extends the lease expiry when the owner still holds a live lease.
func (s *Semaphore) TryRenew(ctx context.Context, ownerID string) (bool, error) {
	now := s.cfg.Clock.Now()
	res, err := s.db.ExecContext(ctx, s.queries.renew, now.Add(s.settings.Timeout), s.settings.Name, ownerID, now)
	if err != nil {
		return false, fmt.Errorf("eventfully mysql: lease renew failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("eventfully mysql: lease renew failed: %w", err)
	}

	return affected > 0, nil
}

// TryRelease drops the owner's lease, freeing a slot immediately.
func (s *Semaphore) TryRelease(ctx context.Context, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.queries.release, s.settings.Name, ownerID)
	if err != nil {
		return false, fmt.Errorf("eventfully mysql: lease release failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("eventfully mysql: lease release failed: %w", err)
	}

	return affected > 0, nil
}

// Leases lists the live leases on this semaphore, ordered by owner.
func (s *Semaphore) Leases(ctx context.Context) ([]eventfully.SemaphoreLease, error) {
	rows, err := s.db.QueryContext(ctx, s.queries.list, s.settings.Name, s.cfg.Clock.Now())
	if err != nil {
		return nil, fmt.Errorf("eventfully mysql: lease list failed: %w", err)
	}
	defer rows.Close()

	var leases []eventfully.SemaphoreLease
	for rows.Next() {
		lease := eventfully.SemaphoreLease{Name: s.settings.Name}
		if err := rows.Scan(&lease.OwnerID, &lease.ExpiresAt); err != nil {
			return nil, fmt.Errorf("eventfully mysql: lease list failed: %w", err)
		}
		leases = append(leases, lease)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventfully mysql: lease list failed: %w", err)
	}

	return leases, nil
}

func (s *Semaphore) lock(ctx context.Context, conn *sql.Conn) (bool, error) {
	var got sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", s.lockName, lockWaitSeconds).Scan(&got); err != nil {
		return false, fmt.Errorf("eventfully mysql: advisory lock failed: %w", err)
	}

	return got.Valid && got.Int64 == 1, nil
}

func (s *Semaphore) unlock(conn *sql.Conn) {
	// Best effort. Closing the connection releases the lock anyway.
	var released sql.NullInt64
	_ = conn.QueryRowContext(context.Background(), "SELECT RELEASE_LOCK(?)", s.lockName).Scan(&released)
}

func (s *Semaphore) holdsLease(ctx context.Context, conn *sql.Conn, ownerID string, now time.Time) bool {
	query := fmt.Sprintf(
		"SELECT COUNT(*) FROM %s WHERE name = ? AND owner_id = ? AND expires_at > ?",
		s.cfg.Table,
	)

	var held int
	if err := conn.QueryRowContext(ctx, query, s.settings.Name, ownerID, now).Scan(&held); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false
	}

	return held > 0
}
