// Command eventfully-cleanup removes old terminal rows from a MySQL outbox
// and saga state table.
//
// It wraps mysql.CleanupMaintainer for use in cron/CronJobs when the
// application itself should not run DELETE statements.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog"

	"github.com/cfrenzel/eventfully"
	"github.com/cfrenzel/eventfully/mysql"
	"github.com/cfrenzel/eventfully/zerologger"
)

const exitUsage = 2

func main() {
	var (
		dsn          string
		table        string
		sagaTable    string
		retention    time.Duration
		checkEvery   time.Duration
		limit        int
		lockName     string
		includeDead  bool
		includeSagas bool
		once         bool
		verbose      bool
	)

	flag.StringVar(&dsn, "dsn", "", "MySQL DSN, e.g. user:pass@tcp(host:3306)/db?parseTime=true")
	flag.StringVar(&table, "table", "outbox_messages", "Outbox table name")
	flag.StringVar(&sagaTable, "saga-table", "outbox_saga_states", "Saga state table name")
	flag.DurationVar(&retention, "retention", 0, "Delete rows older than this duration")
	flag.DurationVar(&checkEvery, "check-every", time.Hour, "How often to run cleanup")
	flag.IntVar(&limit, "limit", 0, "Max rows deleted per run (0 uses default)")
	flag.StringVar(&lockName, "lock-name", "", "Advisory lock name (optional)")
	flag.BoolVar(&includeDead, "include-dead", false, "Delete dead rows as well")
	flag.BoolVar(&includeSagas, "include-sagas", false, "Delete stale saga states as well")
	flag.BoolVar(&once, "once", false, "Run once and exit")
	flag.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	flag.Parse()

	if dsn == "" {
		fmt.Fprintln(os.Stderr, "dsn is required")
		flag.Usage()
		os.Exit(exitUsage)
	}

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerologger.New(zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger())

	if err := run(dsn, table, sagaTable, retention, checkEvery, limit, lockName, includeDead, includeSagas, once, logger); err != nil {
		logger.Error("cleanup failed", "err", err)
		os.Exit(1)
	}
}

func run(
	dsn, table, sagaTable string,
	retention, checkEvery time.Duration,
	limit int,
	lockName string,
	includeDead, includeSagas, once bool,
	logger eventfully.Logger,
) error {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	cfg := mysql.CleanupMaintainerConfig{
		Table:        table,
		SagaTable:    sagaTable,
		Retention:    retention,
		CheckEvery:   checkEvery,
		Limit:        limit,
		IncludeDead:  includeDead,
		IncludeSagas: includeSagas,
		LockName:     lockName,
		Clock:        eventfully.SystemClock{},
		Logger:       logger,
	}
	maintainer, err := mysql.NewCleanupMaintainer(db, cfg)
	if err != nil {
		return fmt.Errorf("init maintainer: %w", err)
	}

	ctx := context.Background()
	if once {
		result, err := maintainer.Ensure(ctx)
		if err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
		if result.Completed > 0 || result.Dead > 0 || result.Sagas > 0 {
			logger.Info("cleanup done", "completed", result.Completed, "dead", result.Dead, "sagas", result.Sagas)
		}

		return nil
	}

	if err := maintainer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run maintainer: %w", err)
	}

	return nil
}
