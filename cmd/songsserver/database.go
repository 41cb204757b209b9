package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"
)

// pingPolicy bounds how long startup waits for Postgres.
type pingPolicy struct {
	timeout    time.Duration // per attempt
	maxWait    time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
}

var defaultPingPolicy = pingPolicy{
	timeout:    5 * time.Second,
	maxWait:    30 * time.Second,
	minBackoff: 500 * time.Millisecond,
	maxBackoff: 5 * time.Second,
}

// openDatabase opens the pgx pool and blocks until the server answers a ping.
func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := waitForDatabase(ctx, db, defaultPingPolicy); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func waitForDatabase(ctx context.Context, db *sql.DB, p pingPolicy) error {
	deadline := time.Now().Add(p.maxWait)
	backoff := p.minBackoff

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := db.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}

		if ctx.Err() != nil || time.Now().Add(backoff).After(deadline) {
			return fmt.Errorf("ping database after %d attempts: %w", attempt, err)
		}

		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", backoff).Msg("database not ready")
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping database: %w", ctx.Err())
		case <-time.After(backoff):
		}

		backoff = min(backoff*2, p.maxBackoff)
	}
}
