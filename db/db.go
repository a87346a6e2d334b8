package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/deemkeen/tusk/domain"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"

	maxBusyRetries = 5
)

// DB is the persistence handle shared by every store in the core.
type DB struct {
	db     *sqlx.DB
	driver string
	log    zerolog.Logger
}

// Open connects to the database, applies connection tuning and runs
// pending migrations.
func Open(driver, dsn string, log zerolog.Logger) (*DB, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("unsupported database driver: %s", driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}

	database := &DB{db: conn, driver: driver, log: log.With().Str("component", "db").Logger()}

	if driver == DriverSQLite {
		if err := database.tuneSQLite(dsn); err != nil {
			conn.Close()
			return nil, err
		}
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(time.Hour)
	}

	if err := database.RunMigrations(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return database, nil
}

func (db *DB) tuneSQLite(dsn string) error {
	if dsn == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.db.SetMaxOpenConns(1)
	} else {
		db.db.SetMaxOpenConns(25)
		db.db.SetMaxIdleConns(5)
		db.db.SetConnMaxLifetime(time.Hour)

		var journalMode string
		if err := db.db.QueryRow("PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			db.log.Warn().Err(err).Msg("Failed to enable WAL mode")
		} else {
			db.log.Info().Str("journal_mode", journalMode).Msg("Database journal mode")
		}
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.db.Exec(p); err != nil {
			return fmt.Errorf("applying %q: %w", p, err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.db.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.db.PingContext(ctx)
}

// wrapTransaction runs the given function within a transaction. A busy
// sqlite database restarts the transaction a bounded number of times.
func (db *DB) wrapTransaction(ctx context.Context, f func(tx *sqlx.Tx) error) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	for attempt := 0; ; attempt++ {
		tx, err := db.db.BeginTxx(ctx, nil)
		if err != nil {
			db.log.Error().Err(err).Msg("error starting transaction")
			return err
		}

		err = f(tx)
		if err != nil {
			_ = tx.Rollback()
			if isBusy(err) && attempt < maxBusyRetries {
				continue
			}
			return err
		}

		if err = tx.Commit(); err != nil {
			if isBusy(err) && attempt < maxBusyRetries {
				continue
			}
			db.log.Error().Err(err).Msg("error committing transaction")
			return err
		}
		return nil
	}
}

// exec runs a single write statement inside its own transaction and
// returns the number of affected rows.
func (db *DB) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var affected int64
	err := db.wrapTransaction(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

func (db *DB) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := db.db.GetContext(ctx, dest, db.db.Rebind(query), args...)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func (db *DB) selectAll(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return db.db.SelectContext(ctx, dest, db.db.Rebind(query), args...)
}

func isBusy(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code()&0xff == sqlitelib.SQLITE_BUSY
	}
	return false
}

func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		code := serr.Code()
		if code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY {
			return true
		}
		return code&0xff == sqlitelib.SQLITE_CONSTRAINT && strings.Contains(serr.Error(), "UNIQUE")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// conflict maps a unique-constraint violation to the given domain error.
func conflict(err error, sentinel error) error {
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}

func notFoundIfNone(affected int64, err error) error {
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
