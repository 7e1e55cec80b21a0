package notifications

import (
	"context"
	"sync"
)

// Emission is one event captured by a Recorder.
type Emission struct {
	Room  string
	Event Event
	Data  any
}

// Recorder keeps every emitted event in memory. It is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Emission
	// Err, when set, is returned from Emit after recording.
	Err error
}

func (r *Recorder) Emit(_ context.Context, room string, event Event, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Emission{Room: room, Event: event, Data: data})
	return r.Err
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Emission(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(event Event) []Emission {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Emission
	for _, e := range r.events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
