package harness

import (
	"log/slog"
	"time"

	"github.com/perbu/replaytest/pkg/retry"
	"github.com/perbu/replaytest/pkg/scenario"
	"github.com/perbu/replaytest/pkg/testspec"
)

// Config holds configuration for the test harness.
type Config struct {
	// ProxyCmd is the proxy executable under test.
	ProxyCmd string

	// ProxyArgs are appended to every proxy command line, before any
	// scenario-specific flags.
	ProxyArgs []string

	// ProxyEnv entries are added to the proxy's environment.
	ProxyEnv []string

	// Verbosity is passed to the proxy as -v.
	Verbosity int

	// ScenarioFiles are YAML scenario files to load.
	ScenarioFiles []string

	// Scenarios are run in addition to the ones in ScenarioFiles. When both
	// are empty the built-in scenarios run.
	Scenarios []testspec.ScenarioSpec

	// Verbose enables debug logging.
	Verbose bool

	// Logger is the structured logger to use. If nil, a default is created.
	Logger *slog.Logger

	// ReadyPolicy bounds the backend warm-up and the proxy listen check.
	// Zero value means retry.DefaultReady.
	ReadyPolicy retry.Policy

	// StopPolicy bounds how long teardown waits for the proxy to exit after
	// the interrupt. Zero value means retry.DefaultStop.
	StopPolicy retry.Policy

	// BindPolicy bounds backend bind retries. Zero value means
	// retry.DefaultBind.
	BindPolicy retry.Policy

	// RequestTimeout bounds each HTTP call made by a scenario. Zero means
	// 30 seconds.
	RequestTimeout time.Duration

	// KillOnStopTimeout sends SIGKILL to a proxy that ignored the interrupt
	// for the whole StopPolicy. Off by default.
	KillOnStopTimeout bool

	// KeepArtifacts preserves each scenario's work directory (cache file,
	// transcript, scenario definition) instead of removing it.
	KeepArtifacts bool
}

// Result holds the outcome of running all scenarios.
type Result struct {
	// Passed is the count of scenarios that passed.
	Passed int

	// Failed is the count of scenarios that failed.
	Failed int

	// Total is the total number of scenarios run.
	Total int

	// Results contains detailed results for each scenario.
	Results []*scenario.Result

	// Artifacts maps scenario name to its preserved work directory, if
	// KeepArtifacts was enabled.
	Artifacts map[string]string
}
