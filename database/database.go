// Package database opens and verifies the PostgreSQL connection the
// loader runs on. The upsert engine itself never opens connections; it
// is handed a transaction started on the *sql.DB returned here.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/lib/pq"
)

// Connect establishes a connection to the PostgreSQL database and
// verifies it with a ping. The caller owns the returned handle and its
// transactions.
func Connect(cfg Config) (*sql.DB, error) {
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}

	dsn := fmt.Sprintf("postgres://%s@%s:%d/%s?sslmode=%s&connect_timeout=%d",
		url.UserPassword(cfg.User, cfg.Password).String(),
		cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode, timeout)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// The loader works on a single connection inside one transaction;
	// the pool only has to keep that connection alive.
	db.SetMaxIdleConns(2)
	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
