package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/perbu/replaytest/pkg/formatter"
	"github.com/perbu/replaytest/pkg/harness"
)

// run parses args, runs the scenarios and prints a report to out
func run(ctx context.Context, args []string, out io.Writer) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	// Handle version flag
	if opts.showVersion {
		fmt.Fprintf(out, "replaytest version %s", embeddedVersion)
		return nil
	}

	// Check that scenario files exist before starting anything
	for _, file := range opts.files {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			return fmt.Errorf("scenario file %q does not exist", file)
		}
	}

	// Setup logger
	logLevel := slog.LevelInfo
	if opts.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	h := harness.New(&harness.Config{
		ProxyCmd:          opts.proxyCmd,
		ProxyArgs:         opts.proxyArgs,
		Verbosity:         opts.verbosity,
		ScenarioFiles:     opts.files,
		Verbose:           opts.verbose,
		Logger:            logger,
		KillOnStopTimeout: opts.killOnTimeout,
		KeepArtifacts:     opts.keepArtifacts,
	})
	defer h.Close()

	result, err := h.Run(ctx)
	if err != nil {
		return err
	}

	useColor := !opts.noColor && formatter.ShouldUseColor()
	for _, res := range result.Results {
		fmt.Fprint(out, formatter.FormatResult(res, useColor))
	}
	for name, dir := range result.Artifacts {
		fmt.Fprintf(out, "Artifacts for %q kept in %s\n", name, dir)
	}

	// Print summary
	fmt.Fprintf(out, "\n====================\n")
	fmt.Fprint(out, formatter.FormatSummary(result.Passed, result.Failed, result.Total, useColor))
	if result.Failed > 0 {
		return errFailed
	}
	return nil
}
