//go:build integration

package mysql_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/cfrenzel/eventfully"
	"github.com/cfrenzel/eventfully/mysql"
)

func TestStoreFetchCompleteIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	insertMessages(t, ctx, db, store, 3)

	batch1, err := store.FetchDue(ctx, eventfully.FetchOptions{Limit: 2})
	require.NoError(t, err)
	ids1 := collectIDs(batch1.Messages())
	require.Len(t, ids1, 2)
	require.NoError(t, batch1.Complete(ctx, ids1))
	require.NoError(t, batch1.Commit())

	batch2, err := store.FetchDue(ctx, eventfully.FetchOptions{Limit: 10})
	require.NoError(t, err)
	ids2 := collectIDs(batch2.Messages())
	require.Len(t, ids2, 1)
	require.NoError(t, batch2.Complete(ctx, ids2))
	require.NoError(t, batch2.Commit())

	_, err = store.FetchDue(ctx, eventfully.FetchOptions{Limit: 1})
	require.ErrorIs(t, err, eventfully.ErrNoMessages)

	count, err := store.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestStoreSkipLockedIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	insertMessages(t, ctx, db, store, 2)

	batch1, err := store.FetchDue(ctx, eventfully.FetchOptions{Limit: 1})
	require.NoError(t, err)
	ids1 := collectIDs(batch1.Messages())
	require.Len(t, ids1, 1)

	batch2, err := store.FetchDue(ctx, eventfully.FetchOptions{Limit: 1})
	require.NoError(t, err)
	ids2 := collectIDs(batch2.Messages())
	require.Len(t, ids2, 1)

	require.NotEqual(t, ids1[0], ids2[0])

	require.NoError(t, batch1.Rollback())
	require.NoError(t, batch2.Rollback())
}

func TestStoreFailReschedulesIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	insertMessages(t, ctx, db, store, 1)

	batch, err := store.FetchDue(ctx, eventfully.FetchOptions{Limit: 1})
	require.NoError(t, err)
	msgs := batch.Messages()
	require.Len(t, msgs, 1)

	nextAt := time.Now().Add(time.Hour)
	require.NoError(t, batch.Fail(ctx, []eventfully.Reschedule{
		{ID: msgs[0].ID, NextAt: nextAt, Err: fmt.Errorf("broker unavailable")},
	}))
	require.NoError(t, batch.Commit())

	// Rescheduled into the future, so nothing is due now.
	_, err = store.FetchDue(ctx, eventfully.FetchOptions{Limit: 1})
	require.ErrorIs(t, err, eventfully.ErrNoMessages)

	var tryCount int
	var lastError sql.NullString
	err = db.QueryRowContext(ctx,
		"SELECT try_count, last_error FROM outbox_messages WHERE id = ?", msgs[0].ID.String(),
	).Scan(&tryCount, &lastError)
	require.NoError(t, err)
	require.Equal(t, 1, tryCount)
	require.Equal(t, "broker unavailable", lastError.String)
}

func TestSemaphoreCapacityIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	schema, err := mysql.SemaphoreSchema("outbox_semaphore_leases")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, schema)
	require.NoError(t, err)

	sem, err := mysql.NewSemaphore(db, eventfully.SemaphoreSettings{
		Name:                "relay",
		MaxConcurrentOwners: 1,
		Timeout:             time.Minute,
	})
	require.NoError(t, err)

	ok, err := sem.TryAcquire(ctx, "owner-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = sem.TryAcquire(ctx, "owner-b")
	require.NoError(t, err)
	require.False(t, ok)

	// Re-acquiring an already held lease refreshes it.
	ok, err = sem.TryAcquire(ctx, "owner-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = sem.TryRenew(ctx, "owner-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = sem.TryRelease(ctx, "owner-a")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = sem.TryAcquire(ctx, "owner-b")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestSagaTokenConcurrencyIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test disabled in short mode")
	}

	ctx := context.Background()
	container, db := startMySQLContainer(t, ctx)
	t.Cleanup(func() {
		_ = db.Close()
		_ = container.Terminate(ctx)
	})

	setupSchema(t, ctx, db)

	store, err := mysql.NewStore(db)
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(ctx context.Context, tx eventfully.DispatchTx) error {
		state, err := tx.LoadSagaState(ctx, "OrderSaga", "order-1")
		require.NoError(t, err)
		require.True(t, state.IsNew)

		state.Current = "AwaitingPayment"
		state.Data = []byte(`{"total":10}`)

		return tx.SaveSagaState(ctx, state)
	})
	require.NoError(t, err)

	err = store.WithinTx(ctx, func(ctx context.Context, tx eventfully.DispatchTx) error {
		state, err := tx.LoadSagaState(ctx, "OrderSaga", "order-1")
		require.NoError(t, err)
		require.False(t, state.IsNew)
		require.Equal(t, int64(1), state.Token)
		require.Equal(t, "AwaitingPayment", state.Current)

		// Simulate a lost race by mangling the loaded token.
		state.Token = 99
		state.Current = "Completed"

		err = tx.SaveSagaState(ctx, state)
		require.ErrorIs(t, err, eventfully.ErrSagaConcurrency)

		return nil
	})
	require.NoError(t, err)
}

func startMySQLContainer(t *testing.T, ctx context.Context) (testcontainers.Container, *sql.DB) {
	t.Helper()
	port := nat.Port("3306/tcp")
	req := testcontainers.ContainerRequest{
		Image:        "mysql:8.0.36",
		ExposedPorts: []string{string(port)},
		Env: map[string]string{
			"MYSQL_ROOT_PASSWORD": "secret",
			"MYSQL_DATABASE":      "eventfully",
		},
		WaitingFor: wait.ForSQL(port, "mysql", func(host string, port nat.Port) string {
			return fmt.Sprintf("root:secret@tcp(%s:%s)/eventfully?parseTime=true&multiStatements=true", host, port.Port())
		}).WithStartupTimeout(2 * time.Minute),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("start mysql container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve host: %v", err)
	}
	mappedPort, err := container.MappedPort(ctx, port)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("resolve port: %v", err)
	}

	dsn := fmt.Sprintf("root:secret@tcp(%s:%s)/eventfully?parseTime=true&multiStatements=true", host, mappedPort.Port())
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("open db: %v", err)
	}
	return container, db
}

func setupSchema(t *testing.T, ctx context.Context, db *sql.DB) {
	t.Helper()
	schema, err := mysql.Schema("outbox_messages")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, schema)
	require.NoError(t, err)

	sagaSchema, err := mysql.SagaSchema("outbox_saga_states")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, sagaSchema)
	require.NoError(t, err)
}

func insertMessages(t *testing.T, ctx context.Context, db *sql.DB, store *mysql.Store, n int) {
	t.Helper()
	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		meta := eventfully.NewMetaData(uuid.NewString())
		msg, err := eventfully.NewOutboxMessage(
			"Order.Created",
			[]byte(fmt.Sprintf(`{"id":%d}`, i)),
			meta,
			time.Now().Add(time.Duration(i)*time.Millisecond),
		)
		require.NoError(t, err)
		require.NoError(t, store.Enqueue(ctx, tx, msg))
	}
	require.NoError(t, tx.Commit())
}

func collectIDs(messages []eventfully.OutboxMessage) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(messages))
	for _, msg := range messages {
		ids = append(ids, msg.ID)
	}
	return ids
}
