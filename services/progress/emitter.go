// Package progress carries stage events from a pipeline run to a consumer,
// typically an SSE handler. Emission is one-directional and never blocks the
// pipeline: a slow consumer loses old progress events, never terminal ones.
package progress

import (
	"sync"
	"time"
)

// Event is one progress notification. Terminal marks the final success or
// failure event of a run; at most one terminal event is emitted per stream.
type Event struct {
	Name     string      `json:"event"`
	Payload  interface{} `json:"payload"`
	At       time.Time   `json:"at"`
	Terminal bool        `json:"-"`
}

// Emitter is the push interface the pipeline reports through. Emit never
// returns an error; delivery problems are the emitter's to absorb.
type Emitter interface {
	Emit(event Event)
}

// Stream is a bounded single-producer emitter. When the buffer is full,
// emitting a progress event drops the oldest buffered event. Terminal events
// always land: one buffer slot beyond the nominal size is reserved for them,
// and emission keeps evicting older events until the terminal one fits.
type Stream struct {
	mu     sync.Mutex
	events chan Event
	size   int
	closed bool
}

// NewStream creates a stream buffering up to size progress events.
func NewStream(size int) *Stream {
	if size < 1 {
		size = 1
	}
	return &Stream{
		// One extra slot so a terminal event fits even at capacity.
		events: make(chan Event, size+1),
		size:   size,
	}
}

// Emit enqueues event without blocking. After Close it is a no-op.
func (s *Stream) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now()
	}

	if event.Terminal {
		for {
			select {
			case s.events <- event:
				return
			default:
			}
			// Evict the oldest buffered event to make room.
			select {
			case <-s.events:
			default:
			}
		}
	}

	if len(s.events) >= s.size {
		select {
		case <-s.events:
		default:
		}
	}
	select {
	case s.events <- event:
	default:
	}
}

// Events returns the consumer side of the stream. The channel is closed by
// Close; ranging over it drains any buffered events first.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Close ends the stream. Safe to call more than once; Emit calls after Close
// are dropped silently.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// Nop discards every event. Used when a caller runs the pipeline without
// streaming, and in tests that do not observe progress.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}
