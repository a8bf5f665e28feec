package formatter

import (
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/perbu/replaytest/pkg/scenario"
)

// ANSI color codes
const (
	ColorReset  = "\033[0m"
	ColorGreen  = "\033[32m"
	ColorGray   = "\033[90m"
	ColorRed    = "\033[31m"
	ColorYellow = "\033[33m"
	ColorBold   = "\033[1m"
)

func paint(s, color string, useColor bool) string {
	if !useColor {
		return s
	}
	return color + s + ColorReset
}

// FormatResult formats one scenario outcome. Passing scenarios take a single
// line; failures list the errors, the steps that ran and the lifecycle
// transcript.
func FormatResult(res *scenario.Result, useColor bool) string {
	var output strings.Builder

	if res.Passed {
		fmt.Fprintf(&output, "%s %s (%s)\n", paint("PASSED:", ColorBold+ColorGreen, useColor), res.Name, res.Duration.Round(time.Millisecond))
		return output.String()
	}

	fmt.Fprintf(&output, "\n%s %s\n", paint("FAILED:", ColorBold+ColorRed, useColor), res.Name)

	// Error messages
	for _, err := range res.Errors {
		fmt.Fprintf(&output, "  %s %s\n", paint("✗", ColorRed, useColor), err)
	}

	// Step trace
	if len(res.Steps) > 0 {
		fmt.Fprintf(&output, "\n%s\n", paint("Steps:", ColorBold+ColorYellow, useColor))
		for _, sr := range res.Steps {
			line := fmt.Sprintf("%3d | %-24s [%s]", sr.Index+1, sr.Step.String(), sr.State)
			if sr.Body != "" {
				line += fmt.Sprintf(" -> %q", sr.Body)
			}
			if sr.Passed {
				fmt.Fprintf(&output, "%s\n", paint("✓ "+line, ColorGreen, useColor))
			} else {
				fmt.Fprintf(&output, "%s\n", paint("✗ "+line, ColorRed, useColor))
			}
		}
	}

	// Lifecycle transcript
	if len(res.Transcript) > 0 {
		fmt.Fprintf(&output, "\n%s\n", paint("Lifecycle:", ColorBold+ColorYellow, useColor))
		for _, line := range res.Transcript {
			fmt.Fprintf(&output, "%s\n", paint("  "+line, ColorGray, useColor))
		}
	}

	return output.String()
}

// FormatSummary formats the final pass/fail count line.
func FormatSummary(passed, failed, total int, useColor bool) string {
	summary := fmt.Sprintf("%d passed, %d failed, %d total", passed, failed, total)
	if failed > 0 {
		return paint(summary, ColorBold+ColorRed, useColor) + "\n"
	}
	return paint(summary, ColorBold+ColorGreen, useColor) + "\n"
}

// ShouldUseColor determines if color output should be used.
// Returns true only if stdout is a terminal (not piped to a file or another program).
func ShouldUseColor() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}
