package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/perbu/replaytest/pkg/retry"
)

// CountingBackend is the canary origin server. GET / answers with the
// current counter value and then increments it; any other path is echoed
// back without touching the counter.
type CountingBackend struct {
	cfg      Config
	logger   *slog.Logger
	server   *http.Server
	listener net.Listener
	served   chan struct{}

	mu    sync.Mutex
	count int
}

// Config defines where the backend listens
type Config struct {
	// Address to bind to. Empty means 127.0.0.1.
	Address string
	// Port to bind to. Zero picks a random port.
	Port int
	// BindPolicy controls retries when the port is still held by a
	// previous owner. Zero value means retry.DefaultBind.
	BindPolicy retry.Policy
	Logger     *slog.Logger
}

// New creates a new counting backend with the given configuration
func New(cfg Config) *CountingBackend {
	if cfg.Address == "" {
		cfg.Address = "127.0.0.1"
	}
	cfg.BindPolicy = cfg.BindPolicy.OrDefault(retry.DefaultBind)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CountingBackend{
		cfg:    cfg,
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
// Returns the address (host:port) that the backend is listening on.
func (b *CountingBackend) Start(ctx context.Context) (string, error) {
	if b.listener != nil {
		return "", fmt.Errorf("backend already started on %s", b.listener.Addr())
	}
	addr := net.JoinHostPort(b.cfg.Address, strconv.Itoa(b.cfg.Port))

	var listener net.Listener
	err := retry.Do(ctx, b.cfg.BindPolicy, func(attempt int) error {
		l, err := net.Listen("tcp", addr)
		if err != nil {
			b.logger.Error("Error binding the counting HTTP server, will retry",
				"addr", addr, "attempt", attempt, "error", err)
			return err
		}
		listener = l
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("binding backend on %s: %w", addr, err)
	}
	b.listener = listener

	b.server = &http.Server{
		Handler: http.HandlerFunc(b.handleRequest),
	}
	b.served = make(chan struct{})

	go func() {
		defer close(b.served)
		if err := b.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("Counting backend stopped serving", "error", err)
		}
	}()

	b.logger.Info("Started http server", "addr", listener.Addr().String())
	return listener.Addr().String(), nil
}

// handleRequest serves the counter on / and echoes every other path
func (b *CountingBackend) handleRequest(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")

	path := r.URL.RequestURI()
	if r.URL.Path != "/" {
		b.logger.Debug("Received a GET request, echoing path", "path", path)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(path))
		return
	}

	b.mu.Lock()
	current := b.count
	b.count++
	b.mu.Unlock()

	b.logger.Debug("Received a GET request, responding with counter", "count", current)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(strconv.Itoa(current)))
}

// Count returns the value the next request to / will receive.
func (b *CountingBackend) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Addr returns the listen address, or "" before Start.
func (b *CountingBackend) Addr() string {
	if b.listener == nil {
		return ""
	}
	return b.listener.Addr().String()
}

// URL returns the base URL of the backend, or "" before Start.
func (b *CountingBackend) URL() string {
	if b.listener == nil {
		return ""
	}
	return "http://" + b.Addr()
}

// Stop gracefully shuts the backend down and waits for the serve loop to
// return. Calling Stop on a backend that was never started is a no-op.
func (b *CountingBackend) Stop(ctx context.Context) error {
	if b.server == nil {
		return nil
	}
	err := b.server.Shutdown(ctx)
	if err != nil {
		// Shutdown gave up on idle connections; force them closed
		_ = b.server.Close()
	}
	<-b.served
	b.server = nil
	b.listener = nil
	if err != nil {
		return fmt.Errorf("shutting down backend: %w", err)
	}
	return nil
}
