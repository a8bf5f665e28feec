package main

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseFlags(t *testing.T) {
	opts, err := parseFlags([]string{
		"-proxy", "/usr/local/bin/martian",
		"-proxy-arg", "-a", "-proxy-arg", "-b",
		"-v", "1", "-verbose", "-no-color", "-keep", "-kill-on-timeout",
		"one.yaml", "two.yaml",
	}, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.proxyCmd != "/usr/local/bin/martian" || opts.verbosity != 1 {
		t.Errorf("proxy/verbosity = %q/%d", opts.proxyCmd, opts.verbosity)
	}
	if len(opts.proxyArgs) != 2 || opts.proxyArgs.String() != "-a,-b" {
		t.Errorf("proxyArgs = %v", opts.proxyArgs)
	}
	if !opts.verbose || !opts.noColor || !opts.keepArtifacts || !opts.killOnTimeout {
		t.Errorf("bool flags not set: %+v", opts)
	}
	if len(opts.files) != 2 || opts.files[1] != "two.yaml" {
		t.Errorf("files = %v", opts.files)
	}
}

func TestParseFlags_Defaults(t *testing.T) {
	opts, err := parseFlags(nil, io.Discard)
	if err != nil {
		t.Fatalf("parseFlags() error = %v", err)
	}
	if opts.proxyCmd != "recordproxy" || opts.verbosity != 2 || len(opts.files) != 0 {
		t.Errorf("defaults = %+v", opts)
	}
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-version"}, &out); err != nil {
		t.Fatalf("run() error = %v", err)
	}
	if !strings.HasPrefix(out.String(), "replaytest version ") {
		t.Errorf("output = %q", out.String())
	}
}

func TestRun_MissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	err := run(context.Background(), []string{missing}, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Errorf("run() error = %v", err)
	}
}

func TestRun_BadFlag(t *testing.T) {
	if err := run(context.Background(), []string{"-bogus"}, io.Discard); err == nil {
		t.Error("run() expected error for unknown flag")
	}
}
