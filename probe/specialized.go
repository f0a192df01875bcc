package probe

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
)

const (
	// SpecializedMaxRetries bounds the protocol-specific waits below.
	SpecializedMaxRetries = 30
	// SpecializedInterval is the fixed delay between their attempts.
	SpecializedInterval = 2 * time.Second
)

// introspectionQuery is the minimal query used to prove a GraphQL service
// has a functioning request path, not just an open port.
const introspectionQuery = `{ __schema { queryType { name } } }`

// Execer runs a command inside a named service container. Satisfied by
// orchestrator.Diagnostics.
type Execer interface {
	Exec(ctx context.Context, service string, cmd []string) (string, error)
}

// WaitForDatabase polls a datastore by running cmd inside its container
// until the command exits zero. A nil cmd defaults to pg_isready.
func WaitForDatabase(ctx context.Context, execer Execer, service string, cmd []string) error {
	return waitForDatabase(ctx, execer, service, cmd, SpecializedMaxRetries, SpecializedInterval)
}

func waitForDatabase(ctx context.Context, execer Execer, service string, cmd []string, retries int, interval time.Duration) error {
	if len(cmd) == 0 {
		cmd = []string{"pg_isready", "-q"}
	}
	return waitFor(ctx, service, retries, interval, func(ctx context.Context) bool {
		_, err := execer.Exec(ctx, service, cmd)
		return err == nil
	})
}

// WaitForDatabasePing polls a SQL connection until PingContext succeeds.
// Use OpenPostgres to build the handle.
func WaitForDatabasePing(ctx context.Context, db *sql.DB, name string) error {
	return waitForDatabasePing(ctx, db, name, SpecializedMaxRetries, SpecializedInterval)
}

func waitForDatabasePing(ctx context.Context, db *sql.DB, name string, retries int, interval time.Duration) error {
	return waitFor(ctx, name, retries, interval, func(ctx context.Context) bool {
		return db.PingContext(ctx) == nil
	})
}

// OpenPostgres opens a lazily-connected Postgres handle for readiness pings.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

// WaitForSchemaService polls a GraphQL endpoint with an introspection query
// until the call succeeds and the response body carries no error field.
func WaitForSchemaService(ctx context.Context, url string, maxRetries int) error {
	if maxRetries <= 0 {
		maxRetries = SpecializedMaxRetries
	}
	return waitForSchemaService(ctx, url, maxRetries, SpecializedInterval)
}

func waitForSchemaService(ctx context.Context, url string, maxRetries int, interval time.Duration) error {
	client := &http.Client{Timeout: probeRequestTimeout}
	return waitFor(ctx, url, maxRetries, interval, func(ctx context.Context) bool {
		return schemaServiceReady(ctx, client, url)
	})
}

func schemaServiceReady(ctx context.Context, client *http.Client, url string) bool {
	payload, err := json.Marshal(map[string]string{"query": introspectionQuery})
	if err != nil {
		return false
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	var body struct {
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false
	}
	return len(body.Errors) == 0
}

// WaitForRedis polls a redis server with PING until it answers.
func WaitForRedis(ctx context.Context, addr string) error {
	return waitForRedis(ctx, addr, SpecializedMaxRetries, SpecializedInterval)
}

func waitForRedis(ctx context.Context, addr string, maxRetries int, interval time.Duration) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	return waitFor(ctx, addr, maxRetries, interval, func(ctx context.Context) bool {
		return client.Ping(ctx).Err() == nil
	})
}

// waitFor is the shared retry loop of every specialized probe.
func waitFor(ctx context.Context, target string, retries int, interval time.Duration, ready func(context.Context) bool) error {
	for attempt := 1; attempt <= retries; attempt++ {
		if ready(ctx) {
			return nil
		}
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}
	return &ReadinessTimeoutError{
		Service:  target,
		Attempts: retries,
		Elapsed:  time.Duration(retries) * interval,
	}
}

// SeedTestData issues a one-shot POST to load fixture data after startup.
// Seeding is best-effort: failures are logged and never propagated, so a
// missing seed endpoint cannot fail a suite on its own.
func SeedTestData(ctx context.Context, url string) {
	log := slog.With("component", "seed")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader([]byte(`{}`)))
	if err != nil {
		log.Warn("seed request build failed", "url", url, "err", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := (&http.Client{Timeout: probeRequestTimeout}).Do(req)
	if err != nil {
		log.Warn("seed request failed", "url", url, "err", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Warn("seed request rejected", "url", url, "status", resp.StatusCode)
		return
	}
	log.Info("test data seeded", "url", url, "status", resp.StatusCode)
}
