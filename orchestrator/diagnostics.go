package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/stagekit/stagekit/compose"
	"github.com/stagekit/stagekit/env"
)

// Compose attaches these labels to every container it starts; they key all
// per-service lookups against the engine.
const (
	labelComposeProject = "com.docker.compose.project"
	labelComposeService = "com.docker.compose.service"
)

// dockerAPI is the slice of the Docker engine client the diagnostics need.
type dockerAPI interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
}

// Diagnostics inspects a running environment without disturbing it: log
// retrieval, per-service health, and in-container command execution. Log and
// health lookups are debugging aids, never correctness dependencies, so
// their failures degrade to zero values instead of propagating.
type Diagnostics struct {
	env     env.Environment
	compose compose.Runner
	docker  dockerAPI
	log     *slog.Logger
}

// NewDiagnostics builds a diagnostics facade against the local Docker engine.
func NewDiagnostics(environment env.Environment, runner compose.Runner) (*Diagnostics, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if runner == nil {
		runner = &compose.ExecRunner{}
	}
	return &Diagnostics{
		env:     environment,
		compose: runner,
		docker:  cli,
		log:     slog.With("component", "diagnostics", "namespace", environment.Namespace),
	}, nil
}

// Logs returns the captured output of one service. Any failure, including an
// unknown service, yields an empty string.
func (d *Diagnostics) Logs(ctx context.Context, service string) string {
	out, err := d.compose.Logs(ctx, d.env.Namespace, d.env.ComposeFile, service)
	if err != nil {
		d.log.Warn("log retrieval failed", "service", service, "err", err)
		return ""
	}
	return out
}

// IsServiceHealthy reports whether the engine's health status for the named
// service's container equals the runtime's healthy sentinel. Containers
// without a healthcheck, missing containers, and inspection failures all
// report false.
func (d *Diagnostics) IsServiceHealthy(ctx context.Context, service string) bool {
	id, err := d.findContainer(ctx, service)
	if err != nil {
		d.log.Warn("health lookup failed", "service", service, "err", err)
		return false
	}

	inspect, err := d.docker.ContainerInspect(ctx, id)
	if err != nil {
		d.log.Warn("container inspect failed", "service", service, "err", err)
		return false
	}
	if inspect.State == nil || inspect.State.Health == nil {
		return false
	}
	return inspect.State.Health.Status == container.Healthy
}

// Exec runs a command inside the named service's container and returns its
// combined output. A non-zero exit status is an error carrying the command's
// stderr, which makes Exec usable as a readiness primitive.
func (d *Diagnostics) Exec(ctx context.Context, service string, cmd []string) (string, error) {
	id, err := d.findContainer(ctx, service)
	if err != nil {
		return "", err
	}

	execResp, err := d.docker.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("exec create: %w", err)
	}

	attachResp, err := d.docker.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("exec attach: %w", err)
	}
	defer attachResp.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attachResp.Reader); err != nil {
		return "", fmt.Errorf("exec read: %w", err)
	}

	inspect, err := d.docker.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return "", fmt.Errorf("exec inspect: %w", err)
	}
	if inspect.ExitCode != 0 {
		return "", fmt.Errorf("exec %s: exit %d: %s",
			strings.Join(cmd, " "), inspect.ExitCode, strings.TrimSpace(stderr.String()))
	}

	output := stdout.String()
	if errStr := stderr.String(); errStr != "" {
		output += "\n" + errStr
	}
	return output, nil
}

func (d *Diagnostics) findContainer(ctx context.Context, service string) (string, error) {
	containers, err := d.docker.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelComposeProject+"="+d.env.Namespace),
			filters.Arg("label", labelComposeService+"="+service),
		),
	})
	if err != nil {
		return "", fmt.Errorf("list containers: %w", err)
	}
	if len(containers) == 0 {
		return "", fmt.Errorf("no container for service %s in %s", service, d.env.Namespace)
	}
	return containers[0].ID, nil
}
