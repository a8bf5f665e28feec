package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/perbu/replaytest/pkg/scenario"
	"github.com/perbu/replaytest/pkg/testspec"
)

// writeArtifacts stores the scenario definition, its transcript and a README
// next to the cache file so a failed run can be inspected afterwards.
func writeArtifacts(dir string, spec testspec.ScenarioSpec, res *scenario.Result) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}

	specYAML, err := yaml.Marshal(spec)
	if err != nil {
		return fmt.Errorf("encoding scenario: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "scenario.yaml"), specYAML, 0644); err != nil {
		return fmt.Errorf("writing scenario: %w", err)
	}

	if len(res.Transcript) > 0 {
		transcript := strings.Join(res.Transcript, "\n") + "\n"
		if err := os.WriteFile(filepath.Join(dir, "transcript.log"), []byte(transcript), 0644); err != nil {
			return fmt.Errorf("writing transcript: %w", err)
		}
	}

	var steps strings.Builder
	for _, sr := range res.Steps {
		status := "ok"
		if !sr.Passed {
			status = "FAILED"
		}
		fmt.Fprintf(&steps, "  %d. %-24s state=%-12s body=%q %s\n", sr.Index+1, sr.Step.String(), sr.State, sr.Body, status)
	}

	readme := fmt.Sprintf(`replaytest artifacts
====================

Generated: %s
Scenario: %s
Passed: %t

Steps:
%s
Files in this directory:
- scenario.yaml: The scenario definition
- transcript.log: Lifecycle events (only for failed scenarios)
- cache.db: The proxy cache file (only for scenarios with cache_file)
- README.txt: This file
`,
		time.Now().Format("2006-01-02 15:04:05"),
		spec.Name,
		res.Passed,
		steps.String(),
	)
	if err := os.WriteFile(filepath.Join(dir, "README.txt"), []byte(readme), 0644); err != nil {
		return fmt.Errorf("writing README: %w", err)
	}
	return nil
}
