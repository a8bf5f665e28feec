package proxy

import "log/slog"

// Config describes how to launch the proxy under test
type Config struct {
	// Cmd is the proxy executable. Relative paths are resolved through PATH
	// by os/exec.
	Cmd string
	// Addr is the data-plane listen address, e.g. ":8080"
	Addr string
	// APIAddr is the control API listen address, e.g. ":8081"
	APIAddr string
	// Verbosity is passed as -v
	Verbosity int
	// CachePath, when set, is passed as -cache so the proxy persists its
	// recorded responses across restarts
	CachePath string
	// ExtraArgs are appended after the generated flags
	ExtraArgs []string
	// Env entries are appended to the inherited environment
	Env []string
	// Dir is the working directory of the child process
	Dir string

	Logger *slog.Logger
}
