// Package scenario executes record/replay scenarios step by step against
// an environment and tracks the proxy's cache mode as it goes.
package scenario

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/perbu/replaytest/pkg/assertion"
	"github.com/perbu/replaytest/pkg/control"
	"github.com/perbu/replaytest/pkg/testspec"
)

// Environment is the running backend and proxy pair a scenario drives.
type Environment interface {
	// Direct fetches path from the backend without the proxy.
	Direct(ctx context.Context, path string) (string, error)
	// Proxied fetches path from the backend through the proxy.
	Proxied(ctx context.Context, path string) (string, error)
	// Configure pushes a cache mode and returns the proxy's response.
	Configure(ctx context.Context, mode control.Mode) (string, error)
	// RestartProxy stops the backend and proxy and starts both again on the
	// same ports and cache file.
	RestartProxy(ctx context.Context) error
}

// State is the last cache mode pushed to the current proxy process.
type State int

const (
	StateUnconfigured State = iota
	StateCache
	StateReplay
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateCache:
		return "cache"
	case StateReplay:
		return "replay"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func stateFor(m control.Mode) State {
	switch m {
	case control.ModeCache:
		return StateCache
	case control.ModeReplay:
		return StateReplay
	}
	return StateUnconfigured
}

// StepResult is the outcome of a single step
type StepResult struct {
	Index    int
	Step     testspec.StepSpec
	State    State // proxy state when the step ran
	Body     string
	Passed   bool
	Errors   []string
	Duration time.Duration
}

// Result is the outcome of a whole scenario
type Result struct {
	Name       string
	Passed     bool
	Steps      []StepResult
	FinalState State
	Errors     []string
	Transcript []string
	Duration   time.Duration
}

// Runner executes scenarios
type Runner struct {
	logger *slog.Logger
	// OnStep, if set, is called after every step.
	OnStep func(scenario string, r StepResult)
}

// NewRunner creates a runner. A nil logger uses slog.Default().
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Run executes spec's steps in order against env and stops at the first
// failure.
func (r *Runner) Run(ctx context.Context, env Environment, spec testspec.ScenarioSpec) *Result {
	start := time.Now()
	result := &Result{
		Name:   spec.Name,
		Passed: true,
	}
	state := StateUnconfigured

	for i, step := range spec.Steps {
		if err := ctx.Err(); err != nil {
			result.Passed = false
			result.Errors = append(result.Errors, fmt.Sprintf("aborted before step %d: %v", i+1, err))
			break
		}

		sr := r.runStep(ctx, env, i, step, state)
		if sr.Passed {
			switch step.Action {
			case testspec.ActionConfigure:
				state = stateFor(step.Mode)
			case testspec.ActionRestart:
				// a fresh proxy process starts unconfigured
				state = StateUnconfigured
			}
		}
		result.Steps = append(result.Steps, sr)
		if r.OnStep != nil {
			r.OnStep(spec.Name, sr)
		}

		if !sr.Passed {
			result.Passed = false
			result.Errors = append(result.Errors, sr.Errors...)
			r.logger.Debug("Step failed, stopping scenario", "scenario", spec.Name, "step", i+1, "errors", sr.Errors)
			break
		}
	}

	result.FinalState = state
	result.Duration = time.Since(start)
	return result
}

func (r *Runner) runStep(ctx context.Context, env Environment, i int, step testspec.StepSpec, state State) StepResult {
	start := time.Now()
	var obs assertion.Observation

	switch step.Action {
	case testspec.ActionDirect:
		obs.Body, obs.Err = env.Direct(ctx, step.Path)
	case testspec.ActionProxied:
		obs.Body, obs.Err = env.Proxied(ctx, step.Path)
	case testspec.ActionConfigure:
		obs.Body, obs.Err = env.Configure(ctx, step.Mode)
	case testspec.ActionRestart:
		obs.Err = env.RestartProxy(ctx)
	default:
		obs.Err = fmt.Errorf("unknown action %q", step.Action)
	}

	r.logger.Debug("Step", "index", i+1, "step", step.String(), "state", state, "body", obs.Body, "error", obs.Err)

	check := assertion.Check(step, obs)
	return StepResult{
		Index:    i,
		Step:     step,
		State:    state,
		Body:     obs.Body,
		Passed:   check.Passed,
		Errors:   check.Errors,
		Duration: time.Since(start),
	}
}
