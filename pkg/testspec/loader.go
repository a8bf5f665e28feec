package testspec

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and parses a YAML scenario file
// Supports multiple scenario documents separated by ---
func Load(filename string) ([]ScenarioSpec, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	specs, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return specs, nil
}

// Parse decodes one or more scenario documents.
func Parse(data []byte) ([]ScenarioSpec, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Strict mode - fail on unknown fields

	var specs []ScenarioSpec
	docNum := 0

	for {
		var spec ScenarioSpec
		err := decoder.Decode(&spec)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing scenario document %d: %w", docNum+1, err)
		}

		docNum++

		if err := validate(&spec); err != nil {
			return nil, fmt.Errorf("scenario %d (%q): %w", docNum, spec.Name, err)
		}

		spec.ApplyDefaults()

		specs = append(specs, spec)
	}

	if len(specs) == 0 {
		return nil, fmt.Errorf("no scenario documents found")
	}

	return specs, nil
}

// validate checks that required fields are present
func validate(spec *ScenarioSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(spec.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	for i, step := range spec.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func validateStep(step StepSpec) error {
	switch step.Action {
	case ActionDirect, ActionProxied:
		if step.Mode != 0 {
			return fmt.Errorf("mode is only valid on configure steps")
		}
		if step.Expect != nil && step.ExpectBody != nil {
			return fmt.Errorf("expect and expect_body are mutually exclusive")
		}
		if step.Path != "" && step.Path[0] != '/' {
			return fmt.Errorf("path %q must start with /", step.Path)
		}
	case ActionConfigure:
		if !step.Mode.Valid() {
			return fmt.Errorf("configure requires mode: cache or replay")
		}
		if step.Expect != nil || step.ExpectBody != nil || step.Path != "" {
			return fmt.Errorf("configure takes only a mode")
		}
	case ActionRestart:
		if step.Expect != nil || step.ExpectBody != nil || step.Path != "" || step.Mode != 0 {
			return fmt.Errorf("restart takes no arguments")
		}
	case "":
		return fmt.Errorf("action is required")
	default:
		return fmt.Errorf("unknown action %q", step.Action)
	}
	return nil
}
