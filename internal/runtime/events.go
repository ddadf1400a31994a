// Package runtime executes recipe workflows: the step executor, the recovery
// pipeline, the workflow runner, the run event stream, and run artifacts.
package runtime

import (
	"sync"

	"github.com/kairi-dev/kairi/internal/log"
)

// EventType discriminates run events.
type EventType string

const (
	EventRunStart    EventType = "run_start"
	EventStepStart   EventType = "step_start"
	EventStepEnd     EventType = "step_end"
	EventRunComplete EventType = "run_complete"
	EventRunError    EventType = "run_error"
)

// RunEvent is one entry in a run's ordered event stream. Fields are
// populated per event type; StepIndex is 1-based.
type RunEvent struct {
	Type EventType `json:"type"`

	// run_start
	RunID      string `json:"runId,omitempty"`
	TotalSteps int    `json:"totalSteps,omitempty"`

	// step_start / step_end
	StepID     string `json:"stepId,omitempty"`
	StepIndex  int    `json:"stepIndex,omitempty"`
	Op         string `json:"op,omitempty"`
	OK         *bool  `json:"ok,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Message    string `json:"message,omitempty"`
	ErrorType  string `json:"errorType,omitempty"`
	Data       any    `json:"data,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`

	// run_complete
	TotalDurationMs *int64         `json:"totalDurationMs,omitempty"`
	Vars            map[string]any `json:"vars,omitempty"`
	AbortedAt       string         `json:"abortedAt,omitempty"`
	Summary         string         `json:"summary,omitempty"`

	// run_error
	Error string `json:"error,omitempty"`
}

func boolPtr(v bool) *bool    { return &v }
func int64Ptr(v int64) *int64 { return &v }

// subscriberBuffer is the per-subscriber channel capacity. Events are tiny;
// a consumer that falls this far behind indicates a bug, and the stream
// drops rather than block the run.
const subscriberBuffer = 256

// Stream is a per-run event fanout. Producers never block on subscribers.
type Stream struct {
	mu     sync.Mutex
	subs   []chan RunEvent
	closed bool
	logger log.Logger
}

// NewStream creates an event stream.
func NewStream(logger log.Logger) *Stream {
	if logger == nil {
		logger = log.Default()
	}
	return &Stream{logger: logger}
}

// Subscribe returns a channel receiving all events emitted after the call.
// The channel is closed when the stream closes.
func (s *Stream) Subscribe() <-chan RunEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan RunEvent, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch
	}
	s.subs = append(s.subs, ch)
	return ch
}

// Emit delivers an event to every subscriber without blocking. A full
// subscriber drops the event with a warning.
func (s *Stream) Emit(ev RunEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropping run event for slow subscriber", "type", string(ev.Type), "stepId", ev.StepID)
		}
	}
}

// Close ends the stream and closes all subscriber channels.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	for _, ch := range s.subs {
		close(ch)
	}
	s.subs = nil
}
