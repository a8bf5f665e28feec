package recordproxy

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/perbu/replaytest/pkg/client"
	"github.com/perbu/replaytest/pkg/control"
)

func startServer(t *testing.T, cachePath string) (*Server, context.CancelFunc, chan error) {
	t.Helper()
	srv, err := NewServer(Options{
		Addr:      "127.0.0.1:0",
		APIAddr:   "127.0.0.1:0",
		CachePath: cachePath,
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	return srv, cancel, done
}

func waitServe(t *testing.T, done chan error) {
	t.Helper()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestServer_PersistsAcrossRestart(t *testing.T) {
	backend := httptest.NewServer(&countingHandler{})
	defer backend.Close()
	cachePath := filepath.Join(t.TempDir(), "cache.db")

	srv, cancel, done := startServer(t, cachePath)
	c, err := client.New(client.Config{BackendURL: backend.URL, ProxyURL: "http://" + srv.DataAddr(), Timeout: 5 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	pusher, err := control.NewPusher("http://" + srv.DataAddr())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := pusher.PushMode(ctx, control.ModeCache); err != nil {
		t.Fatalf("PushMode() error = %v", err)
	}
	if n, err := c.ProxiedNumber(ctx); err != nil || n != 0 {
		t.Fatalf("ProxiedNumber() = %d, %v", n, err)
	}
	cancel()
	waitServe(t, done)

	srv, cancel, done = startServer(t, cachePath)
	defer func() {
		cancel()
		waitServe(t, done)
	}()
	if srv.Proxy().Store().Len() != 1 {
		t.Fatalf("restarted store has %d entries, want 1", srv.Proxy().Store().Len())
	}
	if srv.Proxy().Mode().Valid() {
		t.Error("restarted proxy should start unconfigured")
	}

	c, _ = client.New(client.Config{BackendURL: backend.URL, ProxyURL: "http://" + srv.DataAddr(), Timeout: 5 * time.Second})
	pusher, _ = control.NewPusher("http://" + srv.DataAddr())
	if _, err := pusher.PushMode(ctx, control.ModeReplay); err != nil {
		t.Fatalf("PushMode() error = %v", err)
	}
	if n, err := c.ProxiedNumber(ctx); err != nil || n != 0 {
		t.Errorf("replayed ProxiedNumber() = %d, %v; want 0", n, err)
	}
}

func TestServer_APIPort(t *testing.T) {
	srv, cancel, done := startServer(t, "")
	defer func() {
		cancel()
		waitServe(t, done)
	}()
	if srv.APIAddr() == "" {
		t.Fatal("APIAddr() is empty")
	}
	resp, err := client.MakeRequest(context.Background(), nil, "http://"+srv.APIAddr(), client.Request{
		Method: "POST",
		Path:   control.ConfigurePath,
		Body:   `{"cache.Modifier":{"mode":"replay"}}`,
	})
	if err != nil {
		t.Fatalf("MakeRequest() error = %v", err)
	}
	if resp.Status != 200 || srv.Proxy().Mode() != control.ModeReplay {
		t.Errorf("status %d, mode %v", resp.Status, srv.Proxy().Mode())
	}
}

func TestNewServer_Errors(t *testing.T) {
	if _, err := NewServer(Options{}); err == nil {
		t.Error("NewServer() without address should fail")
	}
	if _, err := NewServer(Options{Addr: "256.0.0.1:0"}); err == nil {
		t.Error("NewServer() with bad address should fail")
	}
}

func TestRunMain_BadFlags(t *testing.T) {
	var stderr bytes.Buffer
	if code := Main([]string{"-nope"}, &stderr); code != 2 {
		t.Errorf("Main() = %d, want 2", code)
	}
	if !strings.Contains(stderr.String(), "nope") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestLevelFor(t *testing.T) {
	tests := map[int]slog.Level{
		-1: slog.LevelWarn,
		0:  slog.LevelWarn,
		1:  slog.LevelInfo,
		2:  slog.LevelDebug,
		5:  slog.LevelDebug,
	}
	for v, want := range tests {
		if got := levelFor(v); got != want {
			t.Errorf("levelFor(%d) = %v, want %v", v, got, want)
		}
	}
}
