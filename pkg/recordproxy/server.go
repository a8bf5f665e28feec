package recordproxy

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/perbu/replaytest/pkg/control"
)

const shutdownTimeout = 5 * time.Second

// Options configures a Server.
type Options struct {
	Addr        string // data plane, e.g. ":8080"
	APIAddr     string // control API; empty disables the separate listener
	ControlHost string // hostname intercepted on the data plane
	CachePath   string // sqlite cache file; empty keeps everything in memory
	Logger      *slog.Logger
}

// Server owns the listeners and the store of one proxy instance.
type Server struct {
	opts   Options
	proxy  *Proxy
	logger *slog.Logger

	dataLn net.Listener
	apiLn  net.Listener
}

// NewServer loads the cache file, if any, and binds the listeners.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Addr == "" {
		return nil, fmt.Errorf("data address cannot be empty")
	}

	store := NewStore()
	if opts.CachePath != "" {
		if err := store.LoadFile(opts.CachePath); err != nil {
			return nil, fmt.Errorf("loading cache file %s: %w", opts.CachePath, err)
		}
		logger.Info("Loaded cache file", "path", opts.CachePath, "entries", store.Len())
	}

	dataLn, err := net.Listen("tcp", opts.Addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", opts.Addr, err)
	}
	s := &Server{
		opts:   opts,
		proxy:  NewProxy(opts.ControlHost, nil, store, logger),
		logger: logger,
		dataLn: dataLn,
	}
	if opts.APIAddr != "" {
		apiLn, err := net.Listen("tcp", opts.APIAddr)
		if err != nil {
			dataLn.Close()
			return nil, fmt.Errorf("listening on %s: %w", opts.APIAddr, err)
		}
		s.apiLn = apiLn
	}
	return s, nil
}

// DataAddr is the bound data-plane address.
func (s *Server) DataAddr() string {
	return s.dataLn.Addr().String()
}

// APIAddr is the bound control API address, or "" when disabled.
func (s *Server) APIAddr() string {
	if s.apiLn == nil {
		return ""
	}
	return s.apiLn.Addr().String()
}

// Proxy returns the data-plane handler.
func (s *Server) Proxy() *Proxy {
	return s.proxy
}

// Serve runs until ctx is cancelled, then shuts the listeners down and
// writes the store back to the cache file.
func (s *Server) Serve(ctx context.Context) error {
	servers := []*http.Server{{Handler: s.proxy}}
	listeners := []net.Listener{s.dataLn}
	if s.apiLn != nil {
		servers = append(servers, &http.Server{Handler: s.proxy.ControlHandler()})
		listeners = append(listeners, s.apiLn)
	}

	errCh := make(chan error, len(servers))
	for i := range servers {
		srv, ln := servers[i], listeners[i]
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}
	s.logger.Info("Proxy listening", "addr", s.DataAddr(), "api", s.APIAddr(), "control_host", s.proxy.controlHost)

	var serveErr error
	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down")
	case serveErr = <-errCh:
		s.logger.Error("Server failed", "error", serveErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}

	if s.opts.CachePath != "" {
		if err := s.proxy.Store().SaveFile(s.opts.CachePath); err != nil {
			return errors.Join(serveErr, fmt.Errorf("saving cache file: %w", err))
		}
		s.logger.Info("Saved cache file", "path", s.opts.CachePath, "entries", s.proxy.Store().Len())
	}
	return serveErr
}

// levelFor maps the -v flag to a log level.
func levelFor(verbosity int) slog.Level {
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// Main parses args, runs the proxy until SIGINT or SIGTERM and returns the
// process exit code.
func Main(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("recordproxy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", ":8080", "data-plane listen address")
	apiAddr := fs.String("api-addr", ":8181", "control API listen address")
	apiHost := fs.String("api", control.DefaultHost, "hostname of the control API on the data plane")
	verbosity := fs.Int("v", 0, "log verbosity (0 warn, 1 info, 2 debug)")
	cachePath := fs.String("cache", "", "sqlite file to load recorded responses from and save them to")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: levelFor(*verbosity)}))

	srv, err := NewServer(Options{
		Addr:        *addr,
		APIAddr:     *apiAddr,
		ControlHost: *apiHost,
		CachePath:   *cachePath,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("Failed to start", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Serve(ctx); err != nil {
		logger.Error("Proxy stopped with error", "error", err)
		return 1
	}
	return 0
}
