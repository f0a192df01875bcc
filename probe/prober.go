// Package probe decides when the services of a test environment are ready.
//
// Every wait in this package shares one shape: a fixed retry budget, a fixed
// delay between attempts, and a ReadinessTimeoutError on exhaustion. Inside
// the loop "not ready yet" is an ordinary boolean outcome; an error is
// reserved for the terminal case.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stagekit/stagekit/env"
)

const (
	// DefaultMaxRetries bounds the generic per-service readiness wait.
	DefaultMaxRetries = 60
	// DefaultInterval is the fixed delay between readiness attempts.
	DefaultInterval = 2 * time.Second

	probeRequestTimeout = 5 * time.Second
)

// ReadinessTimeoutError reports a service that never satisfied its readiness
// predicate within its retry budget.
type ReadinessTimeoutError struct {
	Service  string
	Attempts int
	Elapsed  time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("service %s not ready after %d attempts (%.0fs)",
		e.Service, e.Attempts, e.Elapsed.Seconds())
}

// Prober polls one service until it is reachable or the retry budget runs out.
//
// A service with a health check URL is ready iff the endpoint answers 2xx.
// Without one, the prober falls back to GET http://localhost:{port} and
// treats any status below 500 as ready: a 404 still proves the process is up
// and serving. Callers that need strict readiness should declare an explicit
// health check.
type Prober struct {
	// MaxRetries and Interval default to DefaultMaxRetries / DefaultInterval.
	MaxRetries int
	Interval   time.Duration
	// Client defaults to an HTTP client with a short per-request timeout.
	Client *http.Client
	Log    *slog.Logger
}

// WaitFor blocks until the service is ready, sleeping Interval between
// attempts. Exhausting the budget returns a ReadinessTimeoutError naming the
// service and the total wait.
func (p *Prober) WaitFor(ctx context.Context, svc env.Service) error {
	retries, interval := p.budget()
	log := p.log().With("service", svc.Name)

	for attempt := 1; attempt <= retries; attempt++ {
		if p.ready(ctx, svc) {
			log.Info("service ready", "attempt", attempt)
			return nil
		}
		log.Debug("service not ready yet", "attempt", attempt)
		if err := sleep(ctx, interval); err != nil {
			return err
		}
	}

	return &ReadinessTimeoutError{
		Service:  svc.Name,
		Attempts: retries,
		Elapsed:  time.Duration(retries) * interval,
	}
}

func (p *Prober) ready(ctx context.Context, svc env.Service) bool {
	url := svc.HealthCheck
	if url == "" {
		url = fmt.Sprintf("http://localhost:%d", svc.Port)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := p.client().Do(req)
	if err != nil {
		// Connection refused and timeouts mean "not up yet", never terminal.
		return false
	}
	defer resp.Body.Close()

	if svc.HealthCheck != "" {
		return resp.StatusCode >= 200 && resp.StatusCode < 300
	}
	return resp.StatusCode < 500
}

func (p *Prober) budget() (int, time.Duration) {
	retries := p.MaxRetries
	if retries <= 0 {
		retries = DefaultMaxRetries
	}
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return retries, interval
}

func (p *Prober) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return &http.Client{Timeout: probeRequestTimeout}
}

func (p *Prober) log() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.With("component", "prober")
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
