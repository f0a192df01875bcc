package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

type fakeDocker struct {
	listSummaries []container.Summary
	listErr       error
	lastFilters   string

	inspect    container.InspectResponse
	inspectErr error

	execOutput   []byte
	execExitCode int
	execErr      error
	execCmd      []string
}

func (f *fakeDocker) ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error) {
	var parts []string
	for _, arg := range options.Filters.Get("label") {
		parts = append(parts, arg)
	}
	f.lastFilters = strings.Join(parts, ",")
	return f.listSummaries, f.listErr
}

func (f *fakeDocker) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	return f.inspect, f.inspectErr
}

func (f *fakeDocker) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (container.ExecCreateResponse, error) {
	f.execCmd = options.Cmd
	if f.execErr != nil {
		return container.ExecCreateResponse{}, f.execErr
	}
	return container.ExecCreateResponse{ID: "exec-1"}, nil
}

func (f *fakeDocker) ContainerExecAttach(ctx context.Context, execID string, options container.ExecAttachOptions) (types.HijackedResponse, error) {
	server, client := net.Pipe()
	_ = server.Close()
	return types.HijackedResponse{
		Conn:   client,
		Reader: bufio.NewReader(bytes.NewReader(f.execOutput)),
	}, nil
}

func (f *fakeDocker) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	return container.ExecInspect{ExitCode: f.execExitCode}, nil
}

func stdoutFrames(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	if _, err := stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(text)); err != nil {
		t.Fatalf("encode exec output: %v", err)
	}
	return buf.Bytes()
}

func testDiagnostics(runner *fakeRunner, docker *fakeDocker) *Diagnostics {
	return &Diagnostics{
		env:     testEnvironment(),
		compose: runner,
		docker:  docker,
		log:     slog.With("component", "diagnostics"),
	}
}

func TestLogsReturnsCapturedOutput(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{logsOut: "svcA | listening on :5432\n"}
	d := testDiagnostics(runner, &fakeDocker{})

	got := d.Logs(context.Background(), "svcA")
	if got != runner.logsOut {
		t.Fatalf("Logs() = %q", got)
	}
	if len(runner.logsCalls) != 1 || runner.logsCalls[0] != "svcA" {
		t.Fatalf("logs calls = %v", runner.logsCalls)
	}
}

func TestLogsFailureYieldsEmptyString(t *testing.T) {
	t.Parallel()
	runner := &fakeRunner{logsErr: errors.New("no such service: nonexistent")}
	d := testDiagnostics(runner, &fakeDocker{})

	if got := d.Logs(context.Background(), "nonexistent"); got != "" {
		t.Fatalf("Logs(nonexistent) = %q, want empty", got)
	}
}

func TestIsServiceHealthy(t *testing.T) {
	t.Parallel()
	healthyState := func(status string) container.InspectResponse {
		return container.InspectResponse{
			ContainerJSONBase: &container.ContainerJSONBase{
				State: &container.State{
					Health: &container.Health{Status: status},
				},
			},
		}
	}

	tests := []struct {
		name   string
		docker *fakeDocker
		want   bool
	}{
		{
			name: "healthy",
			docker: &fakeDocker{
				listSummaries: []container.Summary{{ID: "c1"}},
				inspect:       healthyState(container.Healthy),
			},
			want: true,
		},
		{
			name: "starting",
			docker: &fakeDocker{
				listSummaries: []container.Summary{{ID: "c1"}},
				inspect:       healthyState(container.Starting),
			},
			want: false,
		},
		{
			name:   "no container",
			docker: &fakeDocker{},
			want:   false,
		},
		{
			name: "inspect error",
			docker: &fakeDocker{
				listSummaries: []container.Summary{{ID: "c1"}},
				inspectErr:    errors.New("no such container"),
			},
			want: false,
		},
		{
			name: "no healthcheck configured",
			docker: &fakeDocker{
				listSummaries: []container.Summary{{ID: "c1"}},
				inspect: container.InspectResponse{
					ContainerJSONBase: &container.ContainerJSONBase{State: &container.State{}},
				},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d := testDiagnostics(&fakeRunner{}, tt.docker)
			if got := d.IsServiceHealthy(context.Background(), "svcA"); got != tt.want {
				t.Fatalf("IsServiceHealthy() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFindContainerFiltersByComposeLabels(t *testing.T) {
	t.Parallel()
	docker := &fakeDocker{listSummaries: []container.Summary{{ID: "c1"}}}
	d := testDiagnostics(&fakeRunner{}, docker)

	d.IsServiceHealthy(context.Background(), "svcA")
	if !strings.Contains(docker.lastFilters, "com.docker.compose.project=orders-test") {
		t.Fatalf("filters = %q, missing project label", docker.lastFilters)
	}
	if !strings.Contains(docker.lastFilters, "com.docker.compose.service=svcA") {
		t.Fatalf("filters = %q, missing service label", docker.lastFilters)
	}
}

func TestExecReturnsDemuxedOutput(t *testing.T) {
	t.Parallel()
	docker := &fakeDocker{
		listSummaries: []container.Summary{{ID: "c1"}},
		execOutput:    stdoutFrames(t, "accepting connections\n"),
	}
	d := testDiagnostics(&fakeRunner{}, docker)

	out, err := d.Exec(context.Background(), "svcA", []string{"pg_isready"})
	if err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
	if !strings.Contains(out, "accepting connections") {
		t.Fatalf("Exec() output = %q", out)
	}
	if len(docker.execCmd) != 1 || docker.execCmd[0] != "pg_isready" {
		t.Fatalf("exec cmd = %v", docker.execCmd)
	}
}

func TestExecNonZeroExitIsError(t *testing.T) {
	t.Parallel()
	docker := &fakeDocker{
		listSummaries: []container.Summary{{ID: "c1"}},
		execExitCode:  2,
	}
	d := testDiagnostics(&fakeRunner{}, docker)

	_, err := d.Exec(context.Background(), "svcA", []string{"pg_isready"})
	if err == nil || !strings.Contains(err.Error(), "exit 2") {
		t.Fatalf("Exec() error = %v, want exit status error", err)
	}
}

func TestExecUnknownServiceIsError(t *testing.T) {
	t.Parallel()
	d := testDiagnostics(&fakeRunner{}, &fakeDocker{})
	if _, err := d.Exec(context.Background(), "ghost", []string{"true"}); err == nil {
		t.Fatal("Exec() on unknown service succeeded")
	}
}
