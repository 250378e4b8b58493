package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/cfrenzel/eventfully"
)

// Executor allows enqueuing within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements the eventfully outbox contracts over MySQL. Open the
// database with parseTime=true so TIMESTAMP columns scan into time.Time.
type Store struct {
	db        *sql.DB
	cfg       Config
	queries   queries
	table     string
	sagaTable string
}

var _ eventfully.OutboxStore = (*Store)(nil)
var _ eventfully.TransientCompleter = (*Store)(nil)
var _ eventfully.PendingCounter = (*Store)(nil)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	sagaTable, err := sanitizeTableName(cfg.SagaTable)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:        db,
		cfg:       cfg,
		queries:   newQueries(table, sagaTable),
		table:     table,
		sagaTable: sagaTable,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Enqueue stages a message using the provided executor. Pass the caller's
// *sql.Tx so the message commits atomically with the domain change; this is
// the outbox pattern's atomicity anchor.
func (s *Store) Enqueue(ctx context.Context, exec Executor, msg *eventfully.OutboxMessage) error {
	if exec == nil {
		return ErrExecutorRequired
	}

	metadata, err := eventfully.EncodeMetaData(msg.Meta)
	if err != nil {
		return fmt.Errorf("eventfully mysql: encode metadata failed: %w", err)
	}

	endpoint := any(nil)
	if msg.Endpoint != "" {
		endpoint = msg.Endpoint
	}
	expiresAt := any(nil)
	if msg.ExpiresAt != nil {
		expiresAt = msg.ExpiresAt.UTC()
	}
	meta := any(nil)
	if len(metadata) > 0 {
		meta = metadata
	}

	_, err = exec.ExecContext(
		ctx,
		s.queries.insert,
		msg.ID.String(),
		msg.Type,
		endpoint,
		int16(msg.Status),
		msg.TryCount,
		msg.PriorityAt.UTC(),
		msg.CreatedAt.UTC(),
		expiresAt,
		msg.Payload,
		meta,
	)
	if err != nil {
		return fmt.Errorf("eventfully mysql: insert failed: %w", err)
	}

	return nil
}

// FetchDue claims a batch of due messages using READ COMMITTED + SKIP
// LOCKED. The row locks held by the returned batch's transaction are the
// at-most-one-worker claim.
func (s *Store) FetchDue(ctx context.Context, opts eventfully.FetchOptions) (eventfully.Batch, error) {
	if opts.Limit <= 0 {
		return nil, eventfully.ErrInvalidBatchSize
	}
	now := opts.Now
	if now.IsZero() {
		now = s.cfg.Clock.Now()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("eventfully mysql: begin tx failed: %w", err)
	}

	messages, err := s.selectDue(ctx, tx, opts.Limit, now)
	if err != nil {
		rollbackErr := tx.Rollback()

		return nil, errors.Join(err, rollbackErr)
	}
	if len(messages) == 0 {
		_ = tx.Rollback()

		return nil, eventfully.ErrNoMessages
	}

	return &batch{tx: tx, store: s, messages: messages}, nil
}

func (s *Store) selectDue(ctx context.Context, tx *sql.Tx, limit int, now time.Time) ([]eventfully.OutboxMessage, error) {
	rows, err := tx.QueryContext(
		ctx,
		s.queries.selectDue,
		int16(eventfully.StatusReady),
		int16(eventfully.StatusPending),
		now.UTC(),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("eventfully mysql: select failed: %w", err)
	}
	defer rows.Close()

	messages := make([]eventfully.OutboxMessage, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventfully mysql: rows failed: %w", err)
	}

	return messages, nil
}

func scanMessage(rows *sql.Rows) (eventfully.OutboxMessage, error) {
	var (
		rawID      string
		msgType    string
		endpoint   sql.NullString
		status     int16
		tryCount   int
		priorityAt time.Time
		createdAt  time.Time
		expiresAt  sql.NullTime
		payload    []byte
		metadata   []byte
	)

	if err := rows.Scan(&rawID, &msgType, &endpoint, &status, &tryCount, &priorityAt, &createdAt, &expiresAt, &payload, &metadata); err != nil {
		return eventfully.OutboxMessage{}, fmt.Errorf("eventfully mysql: scan failed: %w", err)
	}

	id, err := uuid.Parse(rawID)
	if err != nil {
		return eventfully.OutboxMessage{}, fmt.Errorf("eventfully mysql: bad message id %q: %w", rawID, err)
	}
	meta, err := eventfully.DecodeMetaData(metadata)
	if err != nil {
		return eventfully.OutboxMessage{}, fmt.Errorf("eventfully mysql: decode metadata failed: %w", err)
	}

	msg := eventfully.OutboxMessage{
		ID:         id,
		Type:       msgType,
		Status:     eventfully.Status(status),
		TryCount:   tryCount,
		PriorityAt: priorityAt,
		CreatedAt:  createdAt,
		Payload:    payload,
		Meta:       meta,
	}
	if endpoint.Valid {
		msg.Endpoint = endpoint.String
	}
	if expiresAt.Valid {
		expiry := expiresAt.Time
		msg.ExpiresAt = &expiry
	}

	return msg, nil
}

func (s *Store) complete(ctx context.Context, tx *sql.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}

	query := buildCompleteQuery(s.table, len(ids))
	args := make([]any, 0, len(ids)+2)
	args = append(args, int16(eventfully.StatusCompleted), s.cfg.Clock.Now())
	for _, id := range ids {
		args = append(args, id.String())
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("eventfully mysql: complete update failed: %w", err)
	}

	return nil
}

func (s *Store) fail(ctx context.Context, tx *sql.Tx, reschedules []eventfully.Reschedule) error {
	now := s.cfg.Clock.Now()
	for _, re := range reschedules {
		if _, err := tx.ExecContext(
			ctx,
			s.queries.failOne,
			re.NextAt.UTC(),
			truncateError(re.Err),
			now,
			re.ID.String(),
		); err != nil {
			return fmt.Errorf("eventfully mysql: fail update failed: %w", err)
		}
	}

	return nil
}

func (s *Store) dead(ctx context.Context, tx *sql.Tx, failures []eventfully.Failure) error {
	now := s.cfg.Clock.Now()
	for _, failure := range failures {
		if _, err := tx.ExecContext(
			ctx,
			s.queries.deadOne,
			int16(eventfully.StatusDead),
			truncateError(failure.Err),
			now,
			failure.ID.String(),
		); err != nil {
			return fmt.Errorf("eventfully mysql: dead update failed: %w", err)
		}
	}

	return nil
}

// CompleteTransient marks a message delivered iff it is still undelivered,
// supporting the transient-dispatch fast path.
func (s *Store) CompleteTransient(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.queries.completeTransient,
		int16(eventfully.StatusCompleted),
		s.cfg.Clock.Now(),
		id.String(),
		int16(eventfully.StatusReady),
		int16(eventfully.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("eventfully mysql: transient complete failed: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("eventfully mysql: transient complete failed: %w", err)
	}

	return affected > 0, nil
}

// PendingCount returns the number of undelivered outbox rows.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(
		ctx,
		s.queries.countPending,
		int16(eventfully.StatusReady),
		int16(eventfully.StatusPending),
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("eventfully mysql: pending count failed: %w", err)
	}

	return count, nil
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if utf8.RuneCountInString(msg) <= defaultMaxErrorLen {
		return msg
	}

	runes := []rune(msg)
	if len(runes) <= defaultMaxErrorLen {
		return msg
	}

	return string(runes[:defaultMaxErrorLen])
}
