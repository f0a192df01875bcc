package terminal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stagekit/stagekit/env"
)

func TestOriginAllowed(t *testing.T) {
	t.Parallel()
	allowed := []string{"http://localhost:3000", "https://ci.example.com"}

	tests := []struct {
		origin string
		want   bool
	}{
		{origin: "http://localhost:3000", want: true},
		{origin: "http://LOCALHOST:3000", want: true},
		{origin: "https://ci.example.com", want: true},
		{origin: "http://ci.example.com", want: false}, // scheme mismatch
		{origin: "http://evil.example.com", want: false},
		{origin: "", want: false},
		{origin: "://bad", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.origin, func(t *testing.T) {
			t.Parallel()
			if got := originAllowed(tt.origin, allowed); got != tt.want {
				t.Fatalf("originAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestOriginAllowedEmptyList(t *testing.T) {
	t.Parallel()
	if originAllowed("http://localhost:3000", nil) {
		t.Fatal("originAllowed with empty allow-list = true")
	}
	if originAllowed("http://localhost:3000", []string{" ", ""}) {
		t.Fatal("originAllowed with blank entries = true")
	}
}

func TestHandlerRejectsUnknownService(t *testing.T) {
	t.Parallel()
	environment := env.Environment{
		Namespace:   "orders-test",
		ComposeFile: "docker-compose.yml",
		Services:    []env.Service{{Name: "bff", Port: 8080}},
	}

	mux := http.NewServeMux()
	mux.Handle("GET /services/{service}/terminal", Handler(environment, nil))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/services/ghost/terminal", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown service status = %d, want 404", rec.Code)
	}
}

func TestResizeMessageShape(t *testing.T) {
	t.Parallel()
	var rm resizeMsg
	if err := json.Unmarshal([]byte(`{"type":"resize","cols":120,"rows":40}`), &rm); err != nil {
		t.Fatalf("unmarshal resize: %v", err)
	}
	if rm.Type != "resize" || rm.Cols != 120 || rm.Rows != 40 {
		t.Fatalf("resizeMsg = %+v", rm)
	}
}
