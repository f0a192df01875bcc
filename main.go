// Command stagekit manages ephemeral compose-backed test environments from
// the shell: bring an environment up and wait for readiness, tear it down,
// inspect logs and health, or open a debug terminal into a service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/stagekit/stagekit/compose"
	"github.com/stagekit/stagekit/env"
	"github.com/stagekit/stagekit/orchestrator"
	"github.com/stagekit/stagekit/probe"
	"github.com/stagekit/stagekit/terminal"
)

const usage = `usage: stagekit <command> [flags]

commands:
  up                 start the environment and wait until every service is ready
  down               stop the environment's containers
  destroy            remove the environment's containers, networks, and volumes
  logs <service>     print the captured output of one service
  health <service>   report the engine health status of one service
  seed <url>         issue a best-effort data-seeding request
  terminal           serve a WebSocket debug terminal for the environment

common flags:
  -f path            environment file (default stagekit.toml)
`

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		slog.Error("command failed", "command", os.Args[1], "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command string, args []string) error {
	fs := flag.NewFlagSet(command, flag.ExitOnError)
	envFile := fs.String("f", "stagekit.toml", "environment file")
	addr := fs.String("addr", "localhost:7070", "terminal listen address (terminal command)")
	origins := fs.String("origins", "http://localhost:3000", "comma-separated allowed origins (terminal command)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if command == "seed" {
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: stagekit seed <url>")
		}
		probe.SeedTestData(ctx, fs.Arg(0))
		return nil
	}

	environment, err := env.Load(*envFile)
	if err != nil {
		return err
	}
	runner := &compose.ExecRunner{}

	switch command {
	case "up":
		manager, err := orchestrator.NewManager(environment, runner, nil)
		if err != nil {
			return err
		}
		if err := manager.Start(ctx); err != nil {
			return err
		}
		fmt.Printf("environment %s is ready\n", environment.Namespace)
		return nil

	case "down":
		// A fresh CLI process has no running-state to consult; issue the quiet
		// group stop directly.
		return runner.Stop(ctx, environment.Namespace, environment.ComposeFile)

	case "destroy":
		manager, err := orchestrator.NewManager(environment, runner, nil)
		if err != nil {
			return err
		}
		manager.Cleanup(ctx)
		return nil

	case "logs":
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: stagekit logs <service>")
		}
		diagnostics, err := orchestrator.NewDiagnostics(environment, runner)
		if err != nil {
			return err
		}
		fmt.Print(diagnostics.Logs(ctx, fs.Arg(0)))
		return nil

	case "health":
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: stagekit health <service>")
		}
		diagnostics, err := orchestrator.NewDiagnostics(environment, runner)
		if err != nil {
			return err
		}
		if !diagnostics.IsServiceHealthy(ctx, fs.Arg(0)) {
			return fmt.Errorf("service %s is not healthy", fs.Arg(0))
		}
		fmt.Printf("service %s is healthy\n", fs.Arg(0))
		return nil

	case "terminal":
		mux := http.NewServeMux()
		mux.Handle("GET /services/{service}/terminal",
			terminal.Handler(environment, strings.Split(*origins, ",")))
		slog.Info("terminal server listening", "addr", *addr, "namespace", environment.Namespace)
		server := &http.Server{Addr: *addr, Handler: mux}
		go func() {
			<-ctx.Done()
			_ = server.Close()
		}()
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil

	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}
