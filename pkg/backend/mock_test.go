package backend

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/perbu/replaytest/pkg/retry"
)

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET %s status = %d, want 200", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return string(body)
}

func startBackend(t *testing.T, cfg Config) *CountingBackend {
	t.Helper()
	b := New(cfg)
	if _, err := b.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		_ = b.Stop(context.Background())
	})
	return b
}

func TestStart_RandomPort(t *testing.T) {
	b := New(Config{})
	addr, err := b.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop(context.Background())

	if !strings.HasPrefix(addr, "127.0.0.1:") {
		t.Errorf("Start() address = %q, want 127.0.0.1:port format", addr)
	}
	if b.URL() != "http://"+addr {
		t.Errorf("URL() = %q, want %q", b.URL(), "http://"+addr)
	}
}

func TestStart_Twice(t *testing.T) {
	b := startBackend(t, Config{})
	if _, err := b.Start(context.Background()); err == nil {
		t.Error("second Start() should fail")
	}
}

func TestCounter_StartsAtZeroAndIncrements(t *testing.T) {
	b := startBackend(t, Config{})

	for want := 0; want < 5; want++ {
		if got := get(t, b.URL()+"/"); got != strconv.Itoa(want) {
			t.Errorf("request %d body = %q, want %q", want, got, strconv.Itoa(want))
		}
	}
	if b.Count() != 5 {
		t.Errorf("Count() = %d, want 5", b.Count())
	}
}

func TestOtherPath_EchoesWithoutCounting(t *testing.T) {
	b := startBackend(t, Config{})

	if got := get(t, b.URL()+"/"); got != "0" {
		t.Fatalf("first body = %q, want 0", got)
	}

	tests := []struct {
		path string
		want string
	}{
		{"/not_cached", "/not_cached"},
		{"/a/b/c", "/a/b/c"},
		{"/search?q=1", "/search?q=1"},
	}
	for _, tt := range tests {
		if got := get(t, b.URL()+tt.path); got != tt.want {
			t.Errorf("GET %s body = %q, want %q", tt.path, got, tt.want)
		}
	}

	if got := get(t, b.URL()+"/"); got != "1" {
		t.Errorf("counter after echoes = %q, want 1", got)
	}
}

func TestContentType(t *testing.T) {
	b := startBackend(t, Config{})

	resp, err := http.Get(b.URL())
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/html" {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
}

func TestConcurrentRequests(t *testing.T) {
	b := startBackend(t, Config{})

	numRequests := 50
	var wg sync.WaitGroup
	wg.Add(numRequests)
	for i := 0; i < numRequests; i++ {
		go func() {
			defer wg.Done()
			resp, err := http.Get(b.URL())
			if err != nil {
				t.Errorf("concurrent request failed: %v", err)
				return
			}
			resp.Body.Close()
		}()
	}
	wg.Wait()

	if b.Count() != numRequests {
		t.Errorf("Count() after %d concurrent requests = %d", numRequests, b.Count())
	}
}

func TestStart_RetriesWhilePortBusy(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := blocker.Addr().(*net.TCPAddr).Port

	go func() {
		time.Sleep(60 * time.Millisecond)
		blocker.Close()
	}()

	b := New(Config{
		Port:       port,
		BindPolicy: retry.Policy{Interval: 20 * time.Millisecond, MaxAttempts: 50},
	})
	addr, err := b.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer b.Stop(context.Background())

	if addr != blocker.Addr().String() {
		t.Errorf("Start() address = %q, want %q", addr, blocker.Addr().String())
	}
}

func TestStart_BindRetryBounded(t *testing.T) {
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer blocker.Close()

	b := New(Config{
		Port:       blocker.Addr().(*net.TCPAddr).Port,
		BindPolicy: retry.Policy{Interval: 5 * time.Millisecond, MaxAttempts: 3},
	})
	_, err = b.Start(context.Background())
	if err == nil {
		b.Stop(context.Background())
		t.Fatal("Start() on a busy port should fail once the policy is exhausted")
	}
}

func TestStop_GracefulShutdown(t *testing.T) {
	b := New(Config{})
	addr, err := b.Start(context.Background())
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	get(t, "http://"+addr)

	if err := b.Stop(context.Background()); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// The port must be released
	l, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("port still held after Stop(): %v", err)
	}
	l.Close()

	// Second Stop is a no-op
	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}

func TestStop_NilServer(t *testing.T) {
	b := New(Config{})
	if err := b.Stop(context.Background()); err != nil {
		t.Errorf("Stop() on unstarted backend error = %v, want nil", err)
	}
	if b.URL() != "" {
		t.Errorf("URL() before Start = %q, want empty", b.URL())
	}
}
