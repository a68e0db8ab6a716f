// Package dbconn opens and configures the *sql.DB connections this
// connector uses for chunk planning and snapshot reads: pool sizing
// knobs threaded through every connection, plus a bounded retry-on-
// connect loop for a database that isn't immediately reachable at
// startup.
package dbconn

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pingcap/errors"
	"github.com/siddontang/loggers"

	"github.com/block/mysql-cdc/pkg/cdcerrors"
)

// Config bundles the pool-level settings this connector's queries
// need; it's deliberately narrower than a general-purpose connection
// config since this module never writes to the source database.
type Config struct {
	MaxOpenConnections int
	ConnectTimeout     time.Duration
	LockWaitTimeout    time.Duration
}

// DefaultConfig matches the defaults named in the connector's
// configuration surface.
func DefaultConfig() *Config {
	return &Config{
		MaxOpenConnections: 4,
		ConnectTimeout:     30 * time.Second,
		LockWaitTimeout:    30 * time.Second,
	}
}

// Open establishes a *sql.DB against dsn and blocks (bounded by
// cfg.ConnectTimeout) retrying until the first ping succeeds: connect
// failure is a retryable condition, not a fatal one, at startup.
func Open(ctx context.Context, logger loggers.Advanced, dsn string, cfg *Config) (*sql.DB, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errors.Annotatef(cdcerrors.ErrConfiguration, "invalid dsn: %v", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)

	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	backoff := 200 * time.Millisecond
	const maxBackoff = 5 * time.Second
	var lastErr error
	for {
		if err := db.PingContext(ctx); err != nil {
			lastErr = err
		} else {
			if lockTimeout := int(cfg.LockWaitTimeout.Seconds()); lockTimeout > 0 {
				if _, err := db.ExecContext(ctx, "SET SESSION lock_wait_timeout = ?", lockTimeout); err != nil {
					logger.Warnf("dbconn: could not set lock_wait_timeout: %v", err)
				}
			}
			return db, nil
		}
		select {
		case <-ctx.Done():
			_ = db.Close()
			return nil, errors.Annotatef(cdcerrors.ErrConnection, "could not connect within %s: %v", cfg.ConnectTimeout, lastErr)
		case <-time.After(backoff):
			backoff = minDuration(backoff*2, maxBackoff)
		}
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// Exec runs a statement with no result rows, wrapping any failure as
// an ErrConnection so callers can apply a uniform retry policy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) error {
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return errors.Annotatef(cdcerrors.ErrConnection, "exec failed: %v", err)
	}
	return nil
}
