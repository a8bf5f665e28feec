package testspec

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/perbu/replaytest/pkg/control"
)

// Action is what a single step does.
type Action string

const (
	// ActionDirect fetches a path straight from the backend.
	ActionDirect Action = "direct"
	// ActionProxied fetches a path from the backend through the proxy.
	ActionProxied Action = "proxied"
	// ActionConfigure pushes a cache mode to the proxy.
	ActionConfigure Action = "configure"
	// ActionRestart tears down the backend and proxy and starts them again on
	// the same ports and cache file.
	ActionRestart Action = "restart"
)

// ScenarioSpec is one record/replay scenario
type ScenarioSpec struct {
	Name string `yaml:"name"`
	// CacheFile starts the proxy with a fresh on-disk cache file that
	// survives restarts within the scenario.
	CacheFile  bool       `yaml:"cache_file,omitempty"`
	ProxyFlags []string   `yaml:"proxy_flags,omitempty"`
	Steps      []StepSpec `yaml:"steps"`
}

// StepSpec is a single step of a scenario.
// Supports two formats:
// 1. Simple string: - restart
// 2. Object: - {action: proxied, path: /x, expect_body: /x}
type StepSpec struct {
	Action     Action       `yaml:"action"`
	Path       string       `yaml:"path,omitempty"`
	Expect     *int         `yaml:"expect,omitempty"`      // expected counter value
	ExpectBody *string      `yaml:"expect_body,omitempty"` // expected literal body
	Mode       control.Mode `yaml:"mode,omitempty"`        // configure only
}

// UnmarshalYAML accepts a bare action name as shorthand
func (s *StepSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		s.Action = Action(value.Value)
		return nil
	}
	type rawStepSpec StepSpec
	return value.Decode((*rawStepSpec)(s))
}

// String renders the step the way it appears in reports.
func (s StepSpec) String() string {
	switch s.Action {
	case ActionConfigure:
		return fmt.Sprintf("configure %s", s.Mode)
	case ActionRestart:
		return "restart"
	default:
		return fmt.Sprintf("%s %s", s.Action, s.Path)
	}
}

// IsFetch reports whether the step issues an HTTP GET
func (s StepSpec) IsFetch() bool {
	return s.Action == ActionDirect || s.Action == ActionProxied
}

// ApplyDefaults sets default values for optional fields
func (t *ScenarioSpec) ApplyDefaults() {
	for i := range t.Steps {
		if t.Steps[i].IsFetch() && t.Steps[i].Path == "" {
			t.Steps[i].Path = "/"
		}
	}
}

// HasRestart returns true if any step restarts the environment
func (t *ScenarioSpec) HasRestart() bool {
	for _, s := range t.Steps {
		if s.Action == ActionRestart {
			return true
		}
	}
	return false
}

// Int returns a pointer to v, for building expectations in code.
func Int(v int) *int { return &v }

// String returns a pointer to v, for building expectations in code.
func String(v string) *string { return &v }
