package main

import (
	"context"
	_ "embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

//go:embed .version
var embeddedVersion string

// errFailed is returned when the run completed but scenarios failed.
var errFailed = errors.New("some scenarios failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// multiStringFlag allows specifying a flag multiple times
type multiStringFlag []string

func (m *multiStringFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiStringFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

type options struct {
	proxyCmd      string
	proxyArgs     multiStringFlag
	verbosity     int
	verbose       bool
	noColor       bool
	keepArtifacts bool
	killOnTimeout bool
	showVersion   bool
	files         []string
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	var opts options
	flags := flag.NewFlagSet("replaytest", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.proxyCmd, "proxy", "recordproxy", "proxy executable under test")
	flags.Var(&opts.proxyArgs, "proxy-arg", "extra argument for the proxy (repeatable)")
	flags.IntVar(&opts.verbosity, "v", 2, "verbosity passed to the proxy as -v")
	flags.BoolVar(&opts.verbose, "verbose", false, "verbose output")
	flags.BoolVar(&opts.noColor, "no-color", false, "disable color output")
	flags.BoolVar(&opts.keepArtifacts, "keep", false, "keep each scenario's work directory")
	flags.BoolVar(&opts.killOnTimeout, "kill-on-timeout", false, "SIGKILL a proxy that ignores SIGINT")
	flags.BoolVar(&opts.showVersion, "version", false, "show version")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: replaytest [flags] [scenario.yaml ...]\n\n")
		fmt.Fprintf(stderr, "Runs the built-in record/replay scenarios when no files are given.\n\n")
		flags.PrintDefaults()
	}

	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}
	opts.files = flags.Args()
	return &opts, nil
}
