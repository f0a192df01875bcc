// Package compose drives a docker compose container group as a single unit,
// scoped by project namespace and compose file.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Runner is the container-group primitive used by the orchestrator. The
// group is addressed by project namespace and compose file on every call so
// a Runner carries no per-environment state.
type Runner interface {
	// Up brings the whole group up detached.
	Up(ctx context.Context, namespace, composeFile string) error
	// Stop stops the group's containers without removing them.
	Stop(ctx context.Context, namespace, composeFile string) error
	// Down removes the group's containers, networks, and volumes.
	Down(ctx context.Context, namespace, composeFile string) error
	// Logs returns the captured output of one service.
	Logs(ctx context.Context, namespace, composeFile, service string) (string, error)
}

// ExecRunner shells out to the docker compose CLI.
//
// Startup and destruction stream compose output to the caller's console;
// Stop runs quiet so teardown noise never drowns out a test's own failure.
type ExecRunner struct {
	// Binary overrides the container CLI, e.g. "podman". Defaults to "docker".
	Binary string
	// Stdout and Stderr receive output of loud commands. Default to the
	// process streams.
	Stdout io.Writer
	Stderr io.Writer
}

func (r *ExecRunner) Up(ctx context.Context, namespace, composeFile string) error {
	return r.runLoud(ctx, namespace, composeFile, "up", "-d")
}

func (r *ExecRunner) Stop(ctx context.Context, namespace, composeFile string) error {
	cmd := r.command(ctx, namespace, composeFile, "stop")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("compose stop: %w", err)
	}
	return nil
}

func (r *ExecRunner) Down(ctx context.Context, namespace, composeFile string) error {
	return r.runLoud(ctx, namespace, composeFile, "down", "--volumes")
}

func (r *ExecRunner) Logs(ctx context.Context, namespace, composeFile, service string) (string, error) {
	cmd := r.command(ctx, namespace, composeFile, "logs", "--no-color", service)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("compose logs %s: %w", service, err)
	}
	return out.String(), nil
}

func (r *ExecRunner) runLoud(ctx context.Context, namespace, composeFile string, args ...string) error {
	cmd := r.command(ctx, namespace, composeFile, args...)
	cmd.Stdout = r.stdout()
	cmd.Stderr = r.stderr()
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("compose %s: %w", strings.Join(args, " "), err)
	}
	return nil
}

func (r *ExecRunner) command(ctx context.Context, namespace, composeFile string, args ...string) *exec.Cmd {
	full := append(composeArgs(namespace, composeFile), args...)
	return exec.CommandContext(ctx, r.binary(), full...)
}

func composeArgs(namespace, composeFile string) []string {
	return []string{"compose", "--project-name", namespace, "--file", composeFile}
}

func (r *ExecRunner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return "docker"
}

func (r *ExecRunner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *ExecRunner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}
