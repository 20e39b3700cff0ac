package pipeline

import (
	"fmt"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

// State is a run's position in the pipeline.
type State string

// Run states in order. Failed is terminal and reachable from any active state.
const (
	StateIdle              State = "idle"
	StateExtracting        State = "extracting"
	StateValidating        State = "validating"
	StateTransforming      State = "transforming"
	StateClearing          State = "clearing"
	StateLoadingDimensions State = "loading_dimensions"
	StateLoadingFacts      State = "loading_facts"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Event kinds.
const (
	EventState   = "state"
	EventWarning = "warning"
	EventDrop    = "drop"
	EventSummary = "summary"
)

// Event is one progress notification.
type Event struct {
	RunID   string
	Time    time.Time
	Kind    string
	State   State
	Message string
	Fields  map[string]any
}

// EventSink receives run events. Implementations must be safe for use by a
// single run at a time; Emit must not block for long.
type EventSink interface {
	Emit(Event)
}

// Logger is the minimal logging interface used by the runner.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// LogSink renders events as key=value log lines.
type LogSink struct {
	Logger Logger
}

// Emit implements EventSink.
func (s LogSink) Emit(e Event) {
	logf := log.New(io.Discard, "", 0).Printf
	if s.Logger != nil {
		logf = s.Logger.Printf
	}

	var b strings.Builder
	fmt.Fprintf(&b, "event=%s run_id=%s", e.Kind, e.RunID)
	if e.State != "" {
		fmt.Fprintf(&b, " state=%s", e.State)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Fields[k])
	}
	if e.Message != "" {
		fmt.Fprintf(&b, " msg=%q", e.Message)
	}
	logf("%s", b.String())
}

// Recorder is an EventSink that keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements EventSink.
func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// States returns the sequence of state events.
func (r *Recorder) States() []State {
	var out []State
	for _, e := range r.Events() {
		if e.Kind == EventState {
			out = append(out, e.State)
		}
	}
	return out
}

type nopSink struct{}

func (nopSink) Emit(Event) {}
