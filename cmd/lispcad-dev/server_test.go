package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/chazu/lispcad/internal/config"
	"github.com/chazu/lispcad/internal/metrics"
	"github.com/chazu/lispcad/pkg/bridge"
	"github.com/chazu/lispcad/pkg/bridge/wsbridge"
	"github.com/chazu/lispcad/pkg/msg"
	"github.com/chazu/lispcad/pkg/session"
	"github.com/chazu/lispcad/pkg/stl"
)

// startServer runs the dev routes on an httptest server and returns its
// bridge URL.
func startServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	cfg := config.Default()
	cfg.MeshCells = 24

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	srv := httptest.NewServer(newServer(ctx, cfg, zaptest.NewLogger(t), m, reg))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http") + "/bridge"
}

func dialClient(t *testing.T, url string) *bridge.Client {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	conn, err := wsbridge.Dial(ctx, url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	client := bridge.NewClient(conn)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = conn.ReadLoop(ctx, client)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		client.Close()
	})
	return client
}

func writeScript(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.lisp")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestEvalScriptOverWebSocket(t *testing.T) {
	_, url := startServer(t)
	client := dialClient(t, url)
	out := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	var stdout bytes.Buffer
	s := session.New(nil)
	script := writeScript(t, "(preview (box 10 10 10))\n(preview (sphere 3))\n(* 6 7)")
	if err := evalScript(ctx, client, s, script, out, &stdout); err != nil {
		t.Fatalf("evalScript: %v\n%s", err, stdout.String())
	}

	if s.Value() != "42" {
		t.Errorf("Value = %q, want 42", s.Value())
	}
	previews := s.Previews()
	if len(previews) != 2 {
		t.Fatalf("got %d previews, want 2", len(previews))
	}
	for _, p := range previews {
		data, err := os.ReadFile(filepath.Join(out, fmt.Sprintf("model-%d.stl", p.ID)))
		if err != nil {
			t.Fatalf("saved file for %d: %v", p.ID, err)
		}
		mesh, err := stl.Decode(data)
		if err != nil {
			t.Fatalf("decode saved %d: %v", p.ID, err)
		}
		if !mesh.Equal(p.Mesh) {
			t.Errorf("saved mesh %d differs from preview", p.ID)
		}
	}
	if !strings.Contains(stdout.String(), "Successfully saved to") {
		t.Errorf("console missing save confirmation:\n%s", stdout.String())
	}
}

func TestEvalScriptReportsErrors(t *testing.T) {
	_, url := startServer(t)
	client := dialClient(t, url)

	var stdout bytes.Buffer
	err := evalScript(context.Background(), client, session.New(nil),
		writeScript(t, "(box 1 2)"), "", &stdout)
	if err == nil {
		t.Fatal("expected an error")
	}
	if !strings.Contains(stdout.String(), "[error]") {
		t.Errorf("console has no error line:\n%s", stdout.String())
	}
}

// Two connections get separate hosts: code loaded on one is not visible to
// the other.
func TestConnectionsAreIsolated(t *testing.T) {
	_, url := startServer(t)
	a := dialClient(t, url)
	b := dialClient(t, url)
	ctx := context.Background()

	if _, err := a.Send(ctx, msg.RequestCode{Path: writeScript(t, "(+ 1 1)")}); err != nil {
		t.Fatal(err)
	}
	<-a.Events()

	if _, err := b.Send(ctx, msg.RequestEval{}); err != nil {
		t.Fatal(err)
	}
	select {
	case ev := <-b.Events():
		ok, isOk := ev.Response.(msg.EvalOk)
		if !isOk || ok.Value != "nil" {
			t.Errorf("second connection evaluated %#v", ev.Response)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("timed out")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, url := startServer(t)
	client := dialClient(t, url)
	if _, err := client.Send(context.Background(), msg.RequestEval{}); err != nil {
		t.Fatal(err)
	}
	<-client.Events()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	for _, name := range []string{"lispcad_bridge_frames_total", "lispcad_eval_duration_seconds"} {
		if !bytes.Contains(body, []byte(name)) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

func TestHealthz(t *testing.T) {
	srv, _ := startServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
}

func TestBridgeRejectsPlainHTTP(t *testing.T) {
	srv, _ := startServer(t)
	resp, err := http.Get(srv.URL + "/bridge")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status %d, want 400", resp.StatusCode)
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if err := run(context.Background(), []string{"frobnicate"}, io.Discard); err == nil {
		t.Fatal("expected error")
	}
}

func TestEvalCmdUsage(t *testing.T) {
	err := evalCmd(context.Background(), config.Default(), zaptest.NewLogger(t), nil, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Errorf("evalCmd() = %v, want usage error", err)
	}
}
