package proxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/perbu/replaytest/pkg/retry"
)

var (
	// ErrNotStarted is returned by operations that need a running child
	ErrNotStarted = errors.New("proxy process not started")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("proxy process already started")
)

// Process owns exactly one proxy child process. It is started with Start,
// asked to stop with SignalGracefulStop, and observed with WaitExited.
// Stop combines the two. Process never kills the child on its own.
type Process struct {
	cfg    Config
	args   []string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	done    chan struct{}
	exitErr error
}

// New creates a process supervisor for cfg. Nothing is started.
func New(cfg Config) *Process {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Process{
		cfg:    cfg,
		args:   BuildArgs(&cfg),
		logger: logger,
	}
}

// Args returns the command line arguments the child is started with.
func (p *Process) Args() []string {
	return append([]string(nil), p.args...)
}

// Start launches the proxy. It returns as soon as the process exists; the
// proxy gives no readiness signal, see WaitListening.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	p.logger.Info("Starting proxy", "cmd", p.cfg.Cmd, "args", p.args)

	// Not CommandContext: cancelling ctx must not SIGKILL the proxy,
	// teardown goes through SignalGracefulStop.
	cmd := exec.Command(p.cfg.Cmd, p.args...)
	cmd.Dir = p.cfg.Dir
	cmd.Env = append(os.Environ(), p.cfg.Env...)

	// Route proxy output through our structured logging
	stdout := newLogWriter(p.logger, "proxy")
	stderr := newLogWriter(p.logger, "proxy")
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("cmd.Start: %w", err)
	}
	p.cmd = cmd
	p.done = make(chan struct{})

	go func(done chan struct{}) {
		err := cmd.Wait()
		stdout.Flush()
		stderr.Flush()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(done)
		if err != nil {
			p.logger.Info("Proxy process exited", "pid", cmd.Process.Pid, "error", err)
		} else {
			p.logger.Info("Proxy process exited successfully", "pid", cmd.Process.Pid)
		}
	}(p.done)

	p.logger.Info("Started proxy", "pid", cmd.Process.Pid, "addr", p.cfg.Addr, "api_addr", p.cfg.APIAddr)
	return nil
}

// Pid returns the child pid, or 0 before Start.
func (p *Process) Pid() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Exited reports whether the child has terminated. It is false before Start.
func (p *Process) Exited() bool {
	p.mu.Lock()
	done := p.done
	p.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return true
	default:
		return false
	}
}

// ExitErr returns the error reported by Wait once the child has exited.
func (p *Process) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// SignalGracefulStop sends an interrupt to the child. Signalling a child
// that has already exited is not an error.
func (p *Process) SignalGracefulStop() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil {
		return ErrNotStarted
	}
	if p.Exited() {
		return nil
	}
	p.logger.Debug("Sending interrupt to proxy", "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("signalling proxy: %w", err)
	}
	return nil
}

// WaitExited polls the exit status once per policy interval until the
// child has terminated. It returns an error wrapping retry.ErrTimeout when
// the policy is exhausted.
func (p *Process) WaitExited(ctx context.Context, policy retry.Policy) error {
	if p.Pid() == 0 {
		return ErrNotStarted
	}
	return retry.Do(ctx, policy, func(attempt int) error {
		if p.Exited() {
			return nil
		}
		p.logger.Debug("Proxy still running", "pid", p.Pid(), "attempt", attempt)
		return fmt.Errorf("proxy pid %d still running", p.Pid())
	})
}

// Stop asks the child to exit and waits for it under policy.
func (p *Process) Stop(ctx context.Context, policy retry.Policy) error {
	if p.Pid() == 0 {
		return nil
	}
	if err := p.SignalGracefulStop(); err != nil {
		return err
	}
	if err := p.WaitExited(ctx, policy); err != nil {
		return fmt.Errorf("waiting for proxy to exit: %w", err)
	}
	return nil
}

// Kill sends SIGKILL and waits for the child to be reaped. It is only used
// when the caller explicitly opted into escalation after a stop timeout.
func (p *Process) Kill() error {
	p.mu.Lock()
	cmd, done := p.cmd, p.done
	p.mu.Unlock()
	if cmd == nil {
		return ErrNotStarted
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill proxy: %w", err)
	}
	<-done
	return nil
}

// WaitListening dials addr until a TCP connection succeeds. It is used as
// the readiness gate for the proxy's data port.
func WaitListening(ctx context.Context, addr string, policy retry.Policy) error {
	dialer := net.Dialer{Timeout: time.Second}
	return retry.Do(ctx, policy, func(int) error {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}

// WaitReady is WaitListening that gives up as soon as the child exits.
func (p *Process) WaitReady(ctx context.Context, addr string, policy retry.Policy) error {
	if p.Pid() == 0 {
		return ErrNotStarted
	}
	dialer := net.Dialer{Timeout: time.Second}
	return retry.Do(ctx, policy, func(int) error {
		if p.Exited() {
			return retry.Permanent(fmt.Errorf("proxy exited before listening: %v", p.ExitErr()))
		}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		return conn.Close()
	})
}
