// Package recorder captures harness lifecycle events into a transcript
// that is attached to failing scenario results.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/borud/broker"

	"github.com/perbu/replaytest/pkg/events"
)

// Entry is one recorded event
type Entry struct {
	At      time.Time
	Payload any
}

func (e Entry) String() string {
	return fmt.Sprintf("%s %v", e.At.Format("15:04:05.000"), e.Payload)
}

// ErrSyncTimeout is returned by Sync when the recorder did not catch up in
// time.
var ErrSyncTimeout = errors.New("recorder: sync timed out")

// syncMarker travels through the broker behind every event published
// before it. The recorder closes reached instead of recording it.
type syncMarker struct {
	reached chan struct{}
}

// Recorder subscribes to the lifecycle topic and keeps every event it sees
type Recorder struct {
	broker     *broker.Broker
	logger     *slog.Logger
	mu         sync.Mutex
	entries    []Entry
	running    bool
	done       chan struct{}
	subscriber *broker.Subscriber
}

// New creates a new lifecycle recorder
func New(b *broker.Broker, logger *slog.Logger) (*Recorder, error) {
	if b == nil {
		return nil, fmt.Errorf("broker cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	return &Recorder{
		broker: b,
		logger: logger,
	}, nil
}

// Start subscribes to the lifecycle topic and begins recording
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("recorder is already running")
	}

	subscriber, err := r.broker.Subscribe(events.Topic)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", events.Topic, err)
	}
	r.running = true
	r.done = make(chan struct{})
	r.subscriber = subscriber
	done := r.done

	// Messages blocks until the broker has registered the subscription, so
	// nothing published after Start returns is missed.
	msgs := subscriber.Messages()
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if m, ok := msg.Payload.(syncMarker); ok {
					close(m.reached)
					continue
				}
				r.record(msg.Payload)
			}
		}
	}()
	return nil
}

func (r *Recorder) record(payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.entries = append(r.entries, Entry{At: time.Now(), Payload: payload})
	r.logger.Debug("lifecycle", "event", fmt.Sprint(payload))
}

// Sync blocks until every event published on the lifecycle topic before
// the call has been recorded. The broker delivers asynchronously, so call
// Sync before slicing the transcript.
func (r *Recorder) Sync(timeout time.Duration) error {
	if !r.IsRunning() {
		return fmt.Errorf("recorder is not running")
	}
	marker := syncMarker{reached: make(chan struct{})}
	start := time.Now()
	if err := r.broker.Publish(events.Topic, marker, timeout); err != nil {
		return fmt.Errorf("publishing sync marker: %w", err)
	}
	select {
	case <-marker.reached:
		return nil
	case <-time.After(timeout - time.Since(start)):
		return ErrSyncTimeout
	}
}

// Stop ends recording and cancels the subscription. Events published
// afterwards are ignored.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return fmt.Errorf("recorder is not running")
	}
	r.running = false
	close(r.done)
	if r.subscriber != nil {
		if err := r.subscriber.Cancel(); err != nil && !errors.Is(err, broker.ErrBrokerClosed) {
			return fmt.Errorf("cancelling subscription: %w", err)
		}
		r.subscriber = nil
	}
	return nil
}

// IsRunning returns whether the recorder is currently recording
func (r *Recorder) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Mark returns the current position, for use with TranscriptSince
func (r *Recorder) Mark() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Entries returns a copy of every recorded entry
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Transcript renders every recorded event, one line each
func (r *Recorder) Transcript() []string {
	return r.TranscriptSince(0)
}

// TranscriptSince renders the events recorded after mark
func (r *Recorder) TranscriptSince(mark int) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if mark < 0 || mark > len(r.entries) {
		mark = len(r.entries)
	}
	lines := make([]string, 0, len(r.entries)-mark)
	for _, e := range r.entries[mark:] {
		lines = append(lines, e.String())
	}
	return lines
}
