package assertion

import (
	"fmt"

	"github.com/perbu/replaytest/pkg/client"
	"github.com/perbu/replaytest/pkg/testspec"
)

// Result represents the outcome of assertion checking
type Result struct {
	Passed bool
	Errors []string
}

// Observation is what a step actually produced.
type Observation struct {
	Body string
	Err  error
}

// Check verifies a step's expectations against what was observed
func Check(step testspec.StepSpec, obs Observation) *Result {
	result := &Result{
		Passed: true,
		Errors: []string{},
	}

	// Any transport or control error fails the step outright
	if obs.Err != nil {
		result.Passed = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: %v", step, obs.Err))
		return result
	}

	// Check counter value (if specified)
	if step.Expect != nil {
		got, err := client.ParseNumber(obs.Body)
		if err != nil {
			result.Passed = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: expected %d, got non-numeric body %q", step, *step.Expect, obs.Body))
		} else if got != *step.Expect {
			result.Passed = false
			result.Errors = append(result.Errors,
				fmt.Sprintf("%s: expected %d, got %d", step, *step.Expect, got))
		}
	}

	// Check literal body (if specified)
	if step.ExpectBody != nil && obs.Body != *step.ExpectBody {
		result.Passed = false
		result.Errors = append(result.Errors,
			fmt.Sprintf("%s: expected body %q, got %q", step, *step.ExpectBody, obs.Body))
	}

	return result
}
