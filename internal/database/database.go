// Package database centralises sqlx connection helpers.  The driver is
// go-sql-driver/mysql, which also works with MariaDB and Percona.
//
// Public entry points:
//
//	Open(ctx, dsn)                    – helper with conservative pool sizes.
//	OpenWithOptions(ctx, dsn, opts)   – fine-grained control plus retries.
//
// Both helpers Ping the database before returning so callers fail fast
// during bootstrap.  Sync workers never share a live connection: each one
// checks out its own *sqlx.Conn from the pool for the duration of a page.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Options tunes one pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Retries         uint          // extra Ping attempts after the first
	RetryBackoff    time.Duration // initial backoff, grows exponentially
}

// DefaultOptions are sized for one sync round of ten workers plus the
// runner's own aggregate queries.
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    15,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		Retries:         2,
		RetryBackoff:    500 * time.Millisecond,
	}
}

// Open returns a *sqlx.DB with DefaultOptions.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	return OpenWithOptions(ctx, dsn, DefaultOptions())
}

// OpenWithOptions opens the pool and pings it, retrying with exponential
// backoff so a worker started alongside its database does not crash-loop.
func OpenWithOptions(ctx context.Context, dsn string, opts Options) (*sqlx.DB, error) {
	return openWith(ctx, "mysql", dsn, opts)
}

func openWith(ctx context.Context, driver, dsn string, opts Options) (*sqlx.DB, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(opts.MaxOpenConns)
	db.SetMaxIdleConns(opts.MaxIdleConns)
	db.SetConnMaxLifetime(opts.ConnMaxLifetime)

	b := backoff.NewExponentialBackOff()
	if opts.RetryBackoff > 0 {
		b.InitialInterval = opts.RetryBackoff
	}
	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, db.PingContext(ctx)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(opts.Retries+1))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}
