package runtime

import (
	"testing"

	"github.com/kairi-dev/kairi/internal/log"
)

func TestStream_FanoutAndOrder(t *testing.T) {
	s := NewStream(log.NewNoop())
	a := s.Subscribe()
	b := s.Subscribe()

	s.Emit(RunEvent{Type: EventRunStart, RunID: "r1"})
	s.Emit(RunEvent{Type: EventStepStart, StepID: "open"})
	s.Close()

	for name, ch := range map[string]<-chan RunEvent{"a": a, "b": b} {
		first, ok := <-ch
		if !ok || first.Type != EventRunStart {
			t.Errorf("%s: first = %+v", name, first)
		}
		second, ok := <-ch
		if !ok || second.StepID != "open" {
			t.Errorf("%s: second = %+v", name, second)
		}
		if _, ok := <-ch; ok {
			t.Errorf("%s: channel should be closed", name)
		}
	}
}

func TestStream_SlowSubscriberNeverBlocks(t *testing.T) {
	s := NewStream(log.NewNoop())
	ch := s.Subscribe()

	// Nobody reads; emitting far past the buffer must not deadlock.
	for i := 0; i < subscriberBuffer*2; i++ {
		s.Emit(RunEvent{Type: EventStepStart})
	}
	s.Close()

	var received int
	for range ch {
		received++
	}
	if received != subscriberBuffer {
		t.Errorf("received = %d, want buffer size %d (overflow dropped)", received, subscriberBuffer)
	}
}

func TestStream_SubscribeAfterClose(t *testing.T) {
	s := NewStream(log.NewNoop())
	s.Close()

	ch := s.Subscribe()
	if _, ok := <-ch; ok {
		t.Error("subscription after close should be a closed channel")
	}

	// Emitting after close is a no-op.
	s.Emit(RunEvent{Type: EventRunStart})
	s.Close()
}
