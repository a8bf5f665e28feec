package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/perbu/replaytest/pkg/backend"
	"github.com/perbu/replaytest/pkg/client"
	"github.com/perbu/replaytest/pkg/control"
	"github.com/perbu/replaytest/pkg/events"
	"github.com/perbu/replaytest/pkg/freeport"
	"github.com/perbu/replaytest/pkg/proxy"
	"github.com/perbu/replaytest/pkg/retry"
	"github.com/perbu/replaytest/pkg/testspec"
)

const loopback = "127.0.0.1"

// Environment is one counting backend plus one proxy process on a fixed
// triple of ports. It implements scenario.Environment.
type Environment struct {
	h         *Harness
	spec      testspec.ScenarioSpec
	runID     string
	ports     freeport.Triple
	workDir   string
	cachePath string

	backend *backend.CountingBackend
	proc    *proxy.Process
	client  *client.Client
	pusher  *control.Pusher
}

// Setup allocates ports, starts the backend and the proxy, waits for both
// to be ready and warms the backend up so its counter reads 1. On error
// everything already started is torn down.
func (h *Harness) Setup(ctx context.Context, spec testspec.ScenarioSpec) (*Environment, error) {
	env := &Environment{
		h:     h,
		spec:  spec,
		runID: uuid.NewString(),
	}

	workDir, err := os.MkdirTemp("", "replaytest-"+env.runID[:8]+"-*")
	if err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}
	env.workDir = workDir
	if spec.CacheFile {
		env.cachePath = filepath.Join(workDir, "cache.db")
	}

	env.ports, err = freeport.AllocateTriple(loopback)
	if err != nil {
		env.removeWorkDir()
		return nil, fmt.Errorf("allocating ports: %w", err)
	}
	h.publish(events.EventPortsAllocated{
		RunID:    env.runID,
		Proxy:    env.ports.Proxy,
		ProxyAPI: env.ports.ProxyAPI,
		Backend:  env.ports.Backend,
	})
	h.logger.Debug("Allocated ports", "run", env.runID, "proxy", env.ports.Proxy,
		"api", env.ports.ProxyAPI, "backend", env.ports.Backend)

	if err := env.start(ctx); err != nil {
		teardownErr := env.Teardown(context.WithoutCancel(ctx))
		return nil, errors.Join(err, teardownErr)
	}
	return env, nil
}

// RunID identifies this environment in logs and temp names.
func (e *Environment) RunID() string { return e.runID }

// Ports returns the allocated port triple.
func (e *Environment) Ports() freeport.Triple { return e.ports }

// CachePath is the proxy's cache file, or "" when the scenario runs
// without one.
func (e *Environment) CachePath() string { return e.cachePath }

// WorkDir holds the cache file and any preserved artifacts.
func (e *Environment) WorkDir() string { return e.workDir }

// ProxyURL is the proxy data-plane URL.
func (e *Environment) ProxyURL() string {
	return "http://" + e.proxyAddr()
}

func (e *Environment) proxyAddr() string {
	return loopback + ":" + strconv.Itoa(e.ports.Proxy)
}

func (e *Environment) start(ctx context.Context) error {
	h := e.h
	cfg := h.cfg

	e.backend = backend.New(backend.Config{
		Address:    loopback,
		Port:       e.ports.Backend,
		BindPolicy: cfg.BindPolicy,
		Logger:     h.logger.With("component", "backend"),
	})
	addr, err := e.backend.Start(ctx)
	if err != nil {
		e.backend = nil
		return fmt.Errorf("starting backend: %w", err)
	}
	h.publish(events.EventBackendStarted{Addr: addr})

	extra := append(append([]string(nil), cfg.ProxyArgs...), e.spec.ProxyFlags...)
	e.proc = proxy.New(proxy.Config{
		Cmd:       cfg.ProxyCmd,
		Addr:      proxy.ListenAddr(e.ports.Proxy),
		APIAddr:   proxy.ListenAddr(e.ports.ProxyAPI),
		Verbosity: cfg.Verbosity,
		CachePath: e.cachePath,
		ExtraArgs: extra,
		Env:       cfg.ProxyEnv,
		Dir:       e.workDir,
		Logger:    h.logger.With("component", "proxy"),
	})
	if err := e.proc.Start(ctx); err != nil {
		e.proc = nil
		return fmt.Errorf("starting proxy: %w", err)
	}
	h.publish(events.EventProxyStarted{Cmd: cfg.ProxyCmd, Args: e.proc.Args(), Pid: e.proc.Pid()})

	e.client, err = client.New(client.Config{
		BackendURL: e.backend.URL(),
		ProxyURL:   e.ProxyURL(),
		Timeout:    h.requestTimeout(),
	})
	if err != nil {
		return err
	}
	e.pusher = &control.Pusher{ProxyURL: e.ProxyURL(), Timeout: h.requestTimeout()}

	ready := cfg.ReadyPolicy.OrDefault(retry.DefaultReady)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		h.logger.Debug("Fetching http server until it's ready")
		return retry.Do(gctx, ready, func(attempt int) error {
			n, err := e.client.DirectNumber(gctx)
			if err != nil {
				h.logger.Debug("Server is not ready yet", "attempt", attempt, "error", err)
				return err
			}
			h.logger.Debug("Current http server count", "count", n)
			return nil
		})
	})
	g.Go(func() error {
		return e.proc.WaitReady(gctx, e.proxyAddr(), ready)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("waiting for readiness: %w", err)
	}
	h.logger.Debug("Environment ready", "run", e.runID, "backend", e.backend.URL(), "proxy", e.ProxyURL())
	return nil
}

// stop shuts the backend down and asks the proxy to exit. It never kills
// the proxy unless KillOnStopTimeout is set.
func (e *Environment) stop(ctx context.Context) error {
	var errs []error

	if e.backend != nil {
		if err := e.backend.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stopping backend: %w", err))
		}
		e.backend = nil
	}

	if e.proc != nil {
		pid := e.proc.Pid()
		err := e.proc.Stop(ctx, e.h.cfg.StopPolicy.OrDefault(retry.DefaultStop))
		if errors.Is(err, retry.ErrTimeout) && e.h.cfg.KillOnStopTimeout {
			e.h.logger.Warn("Proxy ignored interrupt, killing", "pid", pid)
			if kerr := e.proc.Kill(); kerr != nil {
				err = errors.Join(err, kerr)
			} else {
				err = nil
			}
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("stopping proxy: %w", err))
		}
		e.h.publish(events.EventProxyStopped{Pid: pid, Err: err})
		if err == nil {
			e.proc = nil
		}
	}

	return errors.Join(errs...)
}

// RestartProxy stops the backend and the proxy and starts both again on the
// same ports and cache file. The backend counter starts over.
func (e *Environment) RestartProxy(ctx context.Context) error {
	e.h.logger.Debug("Restarting environment", "run", e.runID)
	if err := e.stop(ctx); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	if err := e.start(ctx); err != nil {
		return fmt.Errorf("restart: %w", err)
	}
	return nil
}

// Teardown releases everything the environment holds. It is safe to call
// more than once and on a partially started environment.
func (e *Environment) Teardown(ctx context.Context) error {
	err := e.stop(ctx)
	if !e.h.cfg.KeepArtifacts && e.proc == nil {
		e.removeWorkDir()
	}
	e.h.publish(events.EventTeardown{Scenario: e.spec.Name, Err: err})
	return err
}

func (e *Environment) removeWorkDir() {
	if e.workDir == "" {
		return
	}
	if err := os.RemoveAll(e.workDir); err != nil {
		e.h.logger.Warn("Failed to remove work dir", "dir", e.workDir, "error", err)
	}
}

// Direct fetches path from the backend without the proxy.
func (e *Environment) Direct(ctx context.Context, path string) (string, error) {
	return e.client.Direct(ctx, path)
}

// Proxied fetches path from the backend through the proxy.
func (e *Environment) Proxied(ctx context.Context, path string) (string, error) {
	return e.client.Proxied(ctx, path)
}

// Configure pushes a cache mode to the proxy.
func (e *Environment) Configure(ctx context.Context, mode control.Mode) (string, error) {
	body, err := e.pusher.PushMode(ctx, mode)
	if err != nil {
		e.h.publish(events.EventError{Component: "control", Error: err})
		return body, err
	}
	e.h.logger.Debug("Posted config to proxy", "mode", mode.String(), "response", body)
	e.h.publish(events.EventConfigPushed{Mode: mode.String(), Response: body})
	return body, nil
}
