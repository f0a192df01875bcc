// Package terminal provides a WebSocket-to-docker-exec bridge for opening a
// debug shell inside a service of a running test environment.
package terminal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/gorilla/websocket"

	"github.com/stagekit/stagekit/env"
)

const (
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	defaultCols  = 80
	defaultRows  = 24

	labelComposeProject = "com.docker.compose.project"
	labelComposeService = "com.docker.compose.service"
)

func newUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return originAllowed(r.Header.Get("Origin"), allowedOrigins)
		},
	}
}

func originAllowed(origin string, allowed []string) bool {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return false
	}
	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, candidate := range allowed {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		candidateURL, err := url.Parse(candidate)
		if err != nil {
			continue
		}
		if strings.EqualFold(originURL.Host, candidateURL.Host) && originURL.Scheme == candidateURL.Scheme {
			return true
		}
	}
	return false
}

// resizeMsg is a JSON message from the client to resize the terminal.
type resizeMsg struct {
	Type string `json:"type"`
	Cols uint   `json:"cols"`
	Rows uint   `json:"rows"`
}

// Handler returns an http.Handler that upgrades to WebSocket and bridges to
// an interactive shell inside the named service's container.
// Expected route: GET /services/{service}/terminal
func Handler(environment env.Environment, allowedOrigins []string) http.Handler {
	upgrader := newUpgrader(allowedOrigins)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		service := r.PathValue("service")
		if service == "" {
			http.Error(w, "missing service name", http.StatusBadRequest)
			return
		}
		if _, ok := environment.Service(service); !ok {
			http.Error(w, "unknown service", http.StatusNotFound)
			return
		}

		log := slog.With("component", "terminal", "namespace", environment.Namespace, "service", service)

		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			log.Error("docker client failed", "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		defer cli.Close()

		ctx := context.Background()
		containerID, err := findContainer(ctx, cli, environment.Namespace, service)
		if err != nil {
			log.Error("container lookup failed", "err", err)
			http.Error(w, "service container not found", http.StatusNotFound)
			return
		}

		execResp, err := cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
			Cmd:          []string{"/bin/sh"},
			AttachStdin:  true,
			AttachStdout: true,
			AttachStderr: true,
			Tty:          true,
		})
		if err != nil {
			log.Error("exec create failed", "err", err)
			http.Error(w, "failed to create exec", http.StatusInternalServerError)
			return
		}

		hijacked, err := cli.ContainerExecAttach(ctx, execResp.ID, container.ExecAttachOptions{Tty: true})
		if err != nil {
			log.Error("exec attach failed", "err", err)
			http.Error(w, "failed to attach exec", http.StatusInternalServerError)
			return
		}
		defer hijacked.Close()

		_ = cli.ContainerExecResize(ctx, execResp.ID, container.ResizeOptions{
			Height: defaultRows,
			Width:  defaultCols,
		})

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", "err", err)
			return
		}

		log.Info("terminal session started")

		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var once sync.Once
		cleanup := func() {
			once.Do(func() {
				conn.Close()
				hijacked.Close()
				log.Info("terminal session ended")
			})
		}
		defer cleanup()

		// Exec output → WebSocket.
		go func() {
			defer cleanup()
			buf := make([]byte, 4096)
			for {
				n, err := hijacked.Reader.Read(buf)
				if n > 0 {
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if wErr := conn.WriteMessage(websocket.BinaryMessage, buf[:n]); wErr != nil {
						return
					}
				}
				if err != nil {
					if err != io.EOF {
						log.Debug("exec read error", "err", err)
					}
					_ = conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, "exec exited"))
					return
				}
			}
		}()

		// Ping ticker.
		go func() {
			ticker := time.NewTicker(pingInterval)
			defer ticker.Stop()
			for range ticker.C {
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}()

		// WebSocket → exec stdin.
		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}

			if msgType == websocket.TextMessage {
				var rm resizeMsg
				if json.Unmarshal(msg, &rm) == nil && rm.Type == "resize" {
					if rm.Cols > 0 && rm.Rows > 0 {
						_ = cli.ContainerExecResize(ctx, execResp.ID, container.ResizeOptions{
							Height: rm.Rows,
							Width:  rm.Cols,
						})
					}
					continue
				}
			}

			if _, err := hijacked.Conn.Write(msg); err != nil {
				break
			}
		}
	})
}

func findContainer(ctx context.Context, cli *client.Client, namespace, service string) (string, error) {
	containers, err := cli.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", labelComposeProject+"="+namespace),
			filters.Arg("label", labelComposeService+"="+service),
		),
	})
	if err != nil {
		return "", fmt.Errorf("list containers: %w", err)
	}
	if len(containers) == 0 {
		return "", fmt.Errorf("no container for service %s", service)
	}
	return containers[0].ID, nil
}
