// Package orchestrator owns the lifecycle of one compose-backed test
// environment: bring the group up, hold until every declared service is
// ready, and tear the group down without ever masking a test's own failure.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stagekit/stagekit/compose"
	"github.com/stagekit/stagekit/env"
	"github.com/stagekit/stagekit/probe"
)

// ServiceProber decides when a single declared service is ready.
type ServiceProber interface {
	WaitFor(ctx context.Context, svc env.Service) error
}

// Stopper is the handle a suite's setup routine hands to its teardown
// routine. It exposes exactly what teardown needs.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Manager drives the start/stop/cleanup lifecycle of one environment.
//
// A Manager is not safe for concurrent Start/Stop calls; a suite owns one
// manager and serializes calls to it. Managers for distinct namespaces are
// independent and may run concurrently on the same host.
type Manager struct {
	env     env.Environment
	compose compose.Runner
	prober  ServiceProber
	log     *slog.Logger

	// running is true only after compose up succeeded and every service
	// passed its readiness check at least once. Only Start and Stop write it.
	running bool
}

// NewManager builds a manager for one environment. A nil runner defaults to
// the docker compose CLI; a nil prober gets the default retry budget.
func NewManager(environment env.Environment, runner compose.Runner, prober ServiceProber) (*Manager, error) {
	if err := environment.Validate(); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	if runner == nil {
		runner = &compose.ExecRunner{}
	}
	if prober == nil {
		prober = &probe.Prober{}
	}
	return &Manager{
		env:     environment,
		compose: runner,
		prober:  prober,
		log:     slog.With("component", "orchestrator", "namespace", environment.Namespace),
	}, nil
}

// Setup starts the environment and returns the handle its teardown needs.
// Suites thread the handle explicitly from setup to teardown; there is no
// process-wide slot holding the running manager.
func Setup(ctx context.Context, environment env.Environment, runner compose.Runner) (Stopper, error) {
	m, err := NewManager(environment, runner, nil)
	if err != nil {
		return nil, err
	}
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Start brings the container group up and blocks until every declared
// service is ready, in declaration order.
//
// Start is idempotent: when the environment is already running it returns
// without touching the group. A failed compose up propagates and leaves the
// manager stopped. A service that exhausts its retry budget propagates a
// probe.ReadinessTimeoutError; containers that already started are left
// as-is for inspection, never rolled back.
func (m *Manager) Start(ctx context.Context) error {
	if m.running {
		m.log.Info("environment already running")
		return nil
	}

	// A previous run may have left containers behind under this namespace.
	if err := m.compose.Stop(ctx, m.env.Namespace, m.env.ComposeFile); err != nil {
		m.log.Debug("stale environment stop failed", "err", err)
	}

	m.log.Info("starting environment", "compose_file", m.env.ComposeFile)
	if err := m.compose.Up(ctx, m.env.Namespace, m.env.ComposeFile); err != nil {
		return fmt.Errorf("compose up: %w", err)
	}

	for _, svc := range m.env.Services {
		if err := m.prober.WaitFor(ctx, svc); err != nil {
			return err
		}
	}

	m.running = true
	m.log.Info("environment running", "services", len(m.env.Services))
	return nil
}

// Stop brings the group down. Teardown never propagates failures: any
// compose error is logged and swallowed, and the manager is marked stopped
// regardless of the command's outcome. Stop on a never-started manager is a
// no-op.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.running {
		return nil
	}
	m.running = false

	if err := m.compose.Stop(ctx, m.env.Namespace, m.env.ComposeFile); err != nil {
		m.log.Warn("environment stop failed", "err", err)
	}
	m.log.Info("environment stopped")
	return nil
}

// Cleanup removes the group's containers, networks, and volumes. It is
// always safe to call, whether or not the environment ever started, and
// never propagates failures.
func (m *Manager) Cleanup(ctx context.Context) {
	if err := m.compose.Down(ctx, m.env.Namespace, m.env.ComposeFile); err != nil {
		m.log.Warn("environment cleanup failed", "err", err)
	}
}

// Running reports whether the last Start completed successfully without an
// intervening Stop.
func (m *Manager) Running() bool {
	return m.running
}

// Environment returns the declaration this manager drives.
func (m *Manager) Environment() env.Environment {
	return m.env
}
