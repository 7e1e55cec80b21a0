package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cellflow/internal/jobs"
	"cellflow/internal/queue"
)

// Store is the durable job backend the manager drains.
type Store interface {
	AddFlows(ctx context.Context, flows []jobs.Flow) ([]string, error)
	Claim(ctx context.Context, queueName string) (*queue.Job, error)
	Complete(ctx context.Context, id string) error
	Retry(ctx context.Context, id string, runAt time.Time, reason string) error
	Fail(ctx context.Context, id, reason string) ([]*queue.Job, error)
	Recover(ctx context.Context) (int64, error)
}

// Handler processes one claimed job.
type Handler interface {
	Handle(ctx context.Context, job *queue.Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, job *queue.Job) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, job *queue.Job) error {
	return f(ctx, job)
}

// EventType names a job lifecycle transition.
type EventType string

const (
	EventActive    EventType = "active"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event reports a lifecycle transition. Failed events fire only when the job
// is terminal.
type Event struct {
	Type         EventType
	JobID        string
	Name         jobs.Name
	Queue        string
	Data         json.RawMessage
	AttemptsMade int
	Reason       string
	Err          error
	At           time.Time
}

func newEvent(kind EventType, job *queue.Job) Event {
	return Event{
		Type:         kind,
		JobID:        job.ID,
		Name:         job.Name,
		Queue:        job.Queue,
		Data:         job.Data,
		AttemptsMade: job.AttemptsMade,
		At:           time.Now().UTC(),
	}
}

// ErrNoHandler reports a claimed job whose queue has no registered handler.
var ErrNoHandler = errors.New("no handler registered for queue")

type unrecoverableError struct {
	err error
}

func (e *unrecoverableError) Error() string { return e.err.Error() }

func (e *unrecoverableError) Unwrap() error { return e.err }

// Unrecoverable marks err so the job fails without further attempts.
func Unrecoverable(err error) error {
	if err == nil {
		return nil
	}
	return &unrecoverableError{err: err}
}

// IsUnrecoverable reports whether err was marked with Unrecoverable.
func IsUnrecoverable(err error) bool {
	var target *unrecoverableError
	return errors.As(err, &target)
}
