package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/borud/broker"

	"github.com/perbu/replaytest/pkg/events"
	"github.com/perbu/replaytest/pkg/recorder"
	"github.com/perbu/replaytest/pkg/scenario"
	"github.com/perbu/replaytest/pkg/testspec"
)

const (
	defaultRequestTimeout = 30 * time.Second
	transcriptSyncTimeout = 5 * time.Second
)

// Harness runs record/replay scenarios against a proxy executable.
type Harness struct {
	cfg    *Config
	logger *slog.Logger
	broker *broker.Broker
}

// New creates a new test harness with the given configuration.
func New(cfg *Config) *Harness {
	logger := cfg.Logger
	if logger == nil {
		logLevel := slog.LevelInfo
		if cfg.Verbose {
			logLevel = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: logLevel,
		}))
	}

	return &Harness{
		cfg:    cfg,
		logger: logger,
		broker: broker.New(broker.Config{
			DownStreamChanLen:  100,
			PublishChanLen:     100,
			SubscribeChanLen:   10,
			UnsubscribeChanLen: 10,
			DeliveryTimeout:    100 * time.Millisecond,
		}),
	}
}

// Broker returns the broker lifecycle events are published on.
func (h *Harness) Broker() *broker.Broker {
	return h.broker
}

// Close shuts the lifecycle broker down. The harness cannot Run afterwards.
func (h *Harness) Close() {
	h.broker.Shutdown()
}

func (h *Harness) publish(payload any) {
	if err := h.broker.Publish(events.Topic, payload, events.PublishTimeout); err != nil {
		h.logger.Debug("Dropped lifecycle event", "event", fmt.Sprint(payload), "error", err)
	}
}

func (h *Harness) requestTimeout() time.Duration {
	if h.cfg.RequestTimeout > 0 {
		return h.cfg.RequestTimeout
	}
	return defaultRequestTimeout
}

// loadScenarios collects the configured scenarios, falling back to the
// built-in set.
func (h *Harness) loadScenarios() ([]testspec.ScenarioSpec, error) {
	specs := append([]testspec.ScenarioSpec(nil), h.cfg.Scenarios...)
	for _, file := range h.cfg.ScenarioFiles {
		h.logger.Debug("Loading scenario file", "file", file)
		loaded, err := testspec.Load(file)
		if err != nil {
			return nil, fmt.Errorf("loading scenario file: %w", err)
		}
		specs = append(specs, loaded...)
	}
	if len(specs) == 0 {
		h.logger.Debug("No scenarios given, using built-in set")
		specs = testspec.Builtin()
	}
	for i := range specs {
		specs[i].ApplyDefaults()
	}
	return specs, nil
}

// Run executes every scenario sequentially, each in a fresh environment,
// and returns the results. The error is only non-nil when nothing could be
// run at all.
func (h *Harness) Run(ctx context.Context) (*Result, error) {
	if h.cfg.ProxyCmd == "" {
		return nil, fmt.Errorf("proxy command is required")
	}
	specs, err := h.loadScenarios()
	if err != nil {
		return nil, err
	}
	h.logger.Debug("Loaded scenarios", "count", len(specs))

	rec, err := recorder.New(h.broker, h.logger)
	if err != nil {
		return nil, fmt.Errorf("creating recorder: %w", err)
	}
	if err := rec.Start(); err != nil {
		return nil, fmt.Errorf("starting recorder: %w", err)
	}
	defer func() {
		if err := rec.Stop(); err != nil {
			h.logger.Debug("Stopping recorder", "error", err)
		}
	}()

	result := &Result{
		Total:   len(specs),
		Results: make([]*scenario.Result, 0, len(specs)),
	}

	for _, spec := range specs {
		mark := rec.Mark()
		res, workDir := h.runScenario(ctx, spec)
		// Teardown events may still be in flight; they belong to this
		// scenario, not the next one.
		if err := rec.Sync(transcriptSyncTimeout); err != nil {
			h.logger.Warn("Lifecycle transcript may be incomplete", "scenario", spec.Name, "error", err)
		}
		if res.Passed {
			result.Passed++
		} else {
			result.Failed++
			res.Transcript = rec.TranscriptSince(mark)
		}
		result.Results = append(result.Results, res)

		if h.cfg.KeepArtifacts && workDir != "" {
			if err := writeArtifacts(workDir, spec, res); err != nil {
				h.logger.Warn("Failed to write artifacts", "dir", workDir, "error", err)
			}
			if result.Artifacts == nil {
				result.Artifacts = make(map[string]string)
			}
			result.Artifacts[spec.Name] = workDir
		}
	}

	return result, nil
}

// runScenario sets up an environment, runs spec against it and always tears
// it down again.
func (h *Harness) runScenario(ctx context.Context, spec testspec.ScenarioSpec) (*scenario.Result, string) {
	h.logger.Info("Running scenario", "name", spec.Name)

	env, err := h.Setup(ctx, spec)
	if err != nil {
		h.publish(events.EventError{Component: "setup", Error: err})
		return &scenario.Result{
			Name:   spec.Name,
			Passed: false,
			Errors: []string{fmt.Sprintf("setup: %v", err)},
		}, ""
	}

	runner := scenario.NewRunner(h.logger)
	runner.OnStep = func(name string, sr scenario.StepResult) {
		h.publish(events.EventStepCompleted{
			Scenario: name,
			Index:    sr.Index,
			Step:     sr.Step.String(),
			Passed:   sr.Passed,
		})
	}
	res := runner.Run(ctx, env, spec)

	if err := env.Teardown(context.WithoutCancel(ctx)); err != nil {
		res.Passed = false
		res.Errors = append(res.Errors, fmt.Sprintf("teardown: %v", err))
	}

	h.logger.Info("Scenario finished", "name", spec.Name, "passed", res.Passed, "duration", res.Duration)
	return res, env.WorkDir()
}
