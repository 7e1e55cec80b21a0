package jobs

import (
	"encoding/json"
	"fmt"
	"time"
)

// BackoffType selects how retry delays grow.
type BackoffType string

const (
	BackoffExponential BackoffType = "exponential"
	BackoffFixed       BackoffType = "fixed"
)

const (
	defaultAttempts     = 3
	defaultBackoffDelay = 1000 * time.Millisecond
)

// Backoff describes the delay between attempts. Delay crosses the wire in
// milliseconds.
type Backoff struct {
	Type  BackoffType
	Delay time.Duration
}

type backoffWire struct {
	Type    BackoffType `json:"type"`
	DelayMS int64       `json:"delay"`
}

func (b Backoff) MarshalJSON() ([]byte, error) {
	return json.Marshal(backoffWire{Type: b.Type, DelayMS: b.Delay.Milliseconds()})
}

func (b *Backoff) UnmarshalJSON(data []byte) error {
	var wire backoffWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	b.Type = wire.Type
	b.Delay = time.Duration(wire.DelayMS) * time.Millisecond
	return nil
}

// Options are the per-job queue options.
type Options struct {
	Attempts int     `json:"attempts"`
	Backoff  Backoff `json:"backoff"`
}

// DefaultOptions returns three attempts with exponential backoff from 1000ms.
func DefaultOptions() Options {
	return Options{
		Attempts: defaultAttempts,
		Backoff:  Backoff{Type: BackoffExponential, Delay: defaultBackoffDelay},
	}
}

// MaxBackoff caps the exponential retry delay.
const MaxBackoff = time.Hour

// DelayFor returns the wait before the next attempt after attemptsMade
// failures. attemptsMade is 1-based.
func (o Options) DelayFor(attemptsMade int) time.Duration {
	if o.Backoff.Delay <= 0 {
		return 0
	}
	if o.Backoff.Type != BackoffExponential || attemptsMade <= 1 {
		return o.Backoff.Delay
	}
	delay := o.Backoff.Delay
	for i := 1; i < attemptsMade && delay < MaxBackoff; i++ {
		delay *= 2
	}
	return min(delay, MaxBackoff)
}

// Flow is one node of a bulk submission: children complete before the parent
// becomes runnable.
type Flow struct {
	Name     Name            `json:"name"`
	Queue    string          `json:"queueName"`
	Data     json.RawMessage `json:"data"`
	Options  Options         `json:"opts"`
	Children []Flow          `json:"children,omitempty"`
}

// NewFlow encodes payload into a flow node without children.
func NewFlow(name Name, queue string, payload any, opts Options) (Flow, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Flow{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Flow{Name: name, Queue: queue, Data: data, Options: opts}, nil
}

// CountFlows returns the total number of nodes in a forest.
func CountFlows(flows []Flow) int {
	count := 0
	stack := make([]*Flow, 0, len(flows))
	for i := range flows {
		stack = append(stack, &flows[i])
	}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count++
		for i := range node.Children {
			stack = append(stack, &node.Children[i])
		}
	}
	return count
}
