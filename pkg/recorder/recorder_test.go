package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/borud/broker"

	"github.com/perbu/replaytest/pkg/events"
)

func newBroker() *broker.Broker {
	return broker.New(broker.Config{
		DownStreamChanLen:  10,
		PublishChanLen:     10,
		SubscribeChanLen:   10,
		UnsubscribeChanLen: 10,
		DeliveryTimeout:    100 * time.Millisecond,
	})
}

func waitForEntries(t *testing.T, r *Recorder, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.Mark() >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d entries, got %d", n, r.Mark())
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tests := []struct {
		name      string
		broker    *broker.Broker
		logger    *slog.Logger
		wantError bool
	}{
		{"valid config", newBroker(), logger, false},
		{"nil broker", nil, logger, true},
		{"nil logger", newBroker(), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := New(tt.broker, tt.logger)
			if tt.wantError {
				if err == nil {
					t.Errorf("New() expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("New() unexpected error: %v", err)
			}
			if rec.IsRunning() {
				t.Errorf("New recorder should not be running")
			}
		})
	}
}

func TestRecorder_Transcript(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	b := newBroker()
	rec, err := New(b, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := rec.Start(); err == nil {
		t.Error("second Start() should fail")
	}

	// Give the subscription time to register
	time.Sleep(50 * time.Millisecond)

	if err := b.Publish(events.Topic, events.EventBackendStarted{Addr: "127.0.0.1:9000"}, 100*time.Millisecond); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitForEntries(t, rec, 1)
	mark := rec.Mark()

	if err := b.Publish(events.Topic, events.EventError{Component: "proxy", Error: errors.New("boom")}, 100*time.Millisecond); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	waitForEntries(t, rec, 2)

	all := rec.Transcript()
	if len(all) != 2 {
		t.Fatalf("Transcript() = %v", all)
	}
	if !strings.Contains(all[0], "backend started on 127.0.0.1:9000") {
		t.Errorf("first line = %q", all[0])
	}
	since := rec.TranscriptSince(mark)
	if len(since) != 1 || !strings.Contains(since[0], "proxy error: boom") {
		t.Errorf("TranscriptSince() = %v", since)
	}
	if got := rec.TranscriptSince(99); len(got) != 0 {
		t.Errorf("TranscriptSince(out of range) = %v", got)
	}

	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := rec.Stop(); err == nil {
		t.Error("second Stop() should fail")
	}

	_ = b.Publish(events.Topic, events.EventTeardown{Scenario: "x"}, 100*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	if got := len(rec.Entries()); got != 2 {
		t.Errorf("recorded %d entries after Stop, want 2", got)
	}
}

func TestEventStrings(t *testing.T) {
	tests := []struct {
		event fmtStringer
		want  string
	}{
		{events.EventPortsAllocated{RunID: "r", Proxy: 1, ProxyAPI: 2, Backend: 3}, "ports allocated run=r proxy=1 api=2 backend=3"},
		{events.EventProxyStarted{Cmd: "p", Args: []string{"-v", "2"}, Pid: 7}, "proxy started pid=7: p -v 2"},
		{events.EventProxyStopped{Pid: 7}, "proxy pid=7 stopped"},
		{events.EventConfigPushed{Mode: "cache", Response: "{}"}, `configured mode=cache response="{}"`},
		{events.EventStepCompleted{Scenario: "A", Index: 0, Step: "direct /", Passed: false}, "A step 1 (direct /): FAILED"},
		{events.EventTeardown{Scenario: "A"}, "teardown A"},
	}
	for _, tt := range tests {
		if got := tt.event.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

type fmtStringer interface{ String() string }

func TestRecorder_SyncCatchesUp(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	b := newBroker()
	defer b.Shutdown()
	rec, err := New(b, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := rec.Sync(time.Second); err == nil {
		t.Error("Sync() before Start should fail")
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for round := 0; round < 10; round++ {
		mark := rec.Mark()
		for i := 0; i < 5; i++ {
			if err := b.Publish(events.Topic, events.EventProxyStopped{Pid: i}, time.Second); err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
		}
		scenario := fmt.Sprintf("s%d", round)
		if err := b.Publish(events.Topic, events.EventTeardown{Scenario: scenario}, time.Second); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
		if err := rec.Sync(time.Second); err != nil {
			t.Fatalf("Sync() error = %v", err)
		}

		// No polling: after Sync the teardown must already be in place
		lines := rec.TranscriptSince(mark)
		if len(lines) != 6 {
			t.Fatalf("round %d: TranscriptSince() = %v, want 6 lines", round, lines)
		}
		if !strings.HasSuffix(lines[5], "teardown "+scenario) {
			t.Errorf("round %d: last line = %q", round, lines[5])
		}
	}
	for _, line := range rec.Transcript() {
		if strings.Contains(line, "syncMarker") || strings.Contains(line, "reached") {
			t.Errorf("sync marker leaked into transcript: %q", line)
		}
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestRecorder_StopCancelsSubscription(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	b := newBroker()
	defer b.Shutdown()

	rec, err := New(b, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	// A stale subscriber would make each delivery wait out DeliveryTimeout
	// once its buffer is full.
	start := time.Now()
	for i := 0; i < 30; i++ {
		if err := b.Publish(events.Topic, events.EventBackendStarted{Addr: "x"}, time.Second); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("restart Start() error = %v", err)
	}
	if err := rec.Sync(2 * time.Second); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("publishing after Stop took %s, want no delivery timeouts", elapsed)
	}
	_, dropped := b.Counts()
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	if err := rec.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
}

func TestRecorder_StopAfterBrokerShutdown(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	b := newBroker()
	rec, err := New(b, logger)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	b.Shutdown()
	if err := rec.Stop(); err != nil {
		t.Errorf("Stop() after Shutdown error = %v", err)
	}
}
