// Package env declares test environments: a compose project namespace, a
// compose file, and the ordered list of services the environment must bring up.
package env

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Service describes one containerized service of an environment.
//
// When HealthCheck is empty, readiness falls back to plain reachability of
// http://localhost:{Port}.
type Service struct {
	Name        string `toml:"name"`
	Port        int    `toml:"port"`
	HealthCheck string `toml:"health_check"`
}

// Environment is an immutable declaration of one named test environment.
//
// Namespace scopes every container of the environment and must be unique
// across environments running concurrently on the same host. Services are
// probed in declaration order; the order is not a dependency graph.
type Environment struct {
	Namespace   string    `toml:"namespace"`
	ComposeFile string    `toml:"compose_file"`
	Services    []Service `toml:"services"`
}

// Validate checks the declaration before it is handed to an orchestrator.
func (e Environment) Validate() error {
	if strings.TrimSpace(e.Namespace) == "" {
		return fmt.Errorf("namespace is required")
	}
	if strings.TrimSpace(e.ComposeFile) == "" {
		return fmt.Errorf("compose file is required")
	}
	seen := make(map[string]bool, len(e.Services))
	for _, svc := range e.Services {
		name := strings.TrimSpace(svc.Name)
		if name == "" {
			return fmt.Errorf("service name is required")
		}
		if seen[name] {
			return fmt.Errorf("duplicate service %q", name)
		}
		seen[name] = true
		if svc.Port <= 0 {
			return fmt.Errorf("service %q: port must be positive", name)
		}
	}
	return nil
}

// Service returns the named service declaration, if present.
func (e Environment) Service(name string) (Service, bool) {
	for _, svc := range e.Services {
		if svc.Name == name {
			return svc, true
		}
	}
	return Service{}, false
}

// UniqueNamespace derives a host-unique project namespace from a prefix.
// Useful when several suites share one machine.
func UniqueNamespace(prefix string) string {
	short := uuid.NewString()
	if len(short) > 8 {
		short = short[:8]
	}
	if prefix == "" {
		prefix = "stagekit"
	}
	return prefix + "-" + short
}
