package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cellflow/internal/jobs"
	"cellflow/internal/logging"
	"cellflow/internal/notifications"
	"cellflow/internal/services"
	"cellflow/internal/worker"
	"cellflow/internal/workflow"
)

const component = "status"

// StatusUpdater persists cell processing status. workflow.Repository
// satisfies it.
type StatusUpdater interface {
	UpdateProcessingStatus(ctx context.Context, id string, status workflow.ProcessingStatus) error
}

// StatusError reports a failed processing-status write.
type StatusError struct {
	ItemID string
	Status workflow.ProcessingStatus
	Err    error
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("set item %s status %s: %v", e.ItemID, e.Status, e.Err)
}

func (e *StatusError) Unwrap() error { return e.Err }

// NotifyError reports a failed notification.
type NotifyError struct {
	Event notifications.Event
	Room  string
	Err   error
}

func (e *NotifyError) Error() string {
	return fmt.Sprintf("emit %s to %s: %v", e.Event, e.Room, e.Err)
}

func (e *NotifyError) Unwrap() error { return e.Err }

// CellEvent is the payload of cell-active and cell-completed notifications.
type CellEvent struct {
	UserID         string                    `json:"userId"`
	WorkflowID     string                    `json:"workflowId"`
	DocumentItemID string                    `json:"documentItemId"`
	StepIndex      int                       `json:"stepIndex"`
	RowIndex       int                       `json:"rowIndex"`
	Status         workflow.ProcessingStatus `json:"status"`
}

// Propagator applies lifecycle events to cells.
type Propagator struct {
	updater  StatusUpdater
	notifier notifications.Notifier
	logger   *slog.Logger
}

// NewPropagator builds a propagator.
func NewPropagator(updater StatusUpdater, notifier notifications.Notifier, logger *slog.Logger) *Propagator {
	if notifier == nil {
		notifier = notifications.Noop{}
	}
	return &Propagator{
		updater:  updater,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, component),
	}
}

// Run handles events until the channel closes or ctx is done. Handler errors
// are logged; they never stop the loop.
func (p *Propagator) Run(ctx context.Context, events <-chan worker.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.Handle(ctx, ev); err != nil {
				p.logFailure(ev, err)
			}
		}
	}
}

// Handle applies one event. Row-completion events are ignored; other
// non-cell jobs yield jobs.ErrUnknownJob.
func (p *Propagator) Handle(ctx context.Context, ev worker.Event) error {
	if ev.Name == jobs.NameRowCompleted {
		return nil
	}
	payload, err := jobs.DecodeCell(ev.Name, ev.Data)
	if err != nil {
		return err
	}

	var (
		status workflow.ProcessingStatus
		event  notifications.Event
	)
	switch ev.Type {
	case worker.EventActive:
		status, event = workflow.StatusPending, notifications.EventCellActive
	case worker.EventCompleted:
		status, event = workflow.StatusCompleted, notifications.EventCellCompleted
	case worker.EventFailed:
		status, event = workflow.StatusFailed, notifications.EventCellCompleted
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}

	if err := p.updater.UpdateProcessingStatus(ctx, payload.DocumentItemID, status); err != nil {
		return &StatusError{ItemID: payload.DocumentItemID, Status: status, Err: err}
	}
	data := CellEvent{
		UserID:         payload.UserID,
		WorkflowID:     payload.WorkflowID,
		DocumentItemID: payload.DocumentItemID,
		StepIndex:      payload.StepIndex,
		RowIndex:       payload.RowIndex,
		Status:         status,
	}
	room := notifications.Room(payload.UserID, payload.WorkflowID)
	if err := p.notifier.Emit(ctx, room, event, data); err != nil {
		return &NotifyError{Event: event, Room: room, Err: err}
	}
	return nil
}

func (p *Propagator) logFailure(ev worker.Event, err error) {
	attrs := []logging.Attr{
		logging.JobID(ev.JobID),
		logging.Queue(ev.Queue),
		logging.String("job_event", string(ev.Type)),
		logging.Error(err),
	}
	var (
		statusErr *StatusError
		notifyErr *NotifyError
	)
	switch {
	case errors.As(err, &notifyErr):
		logging.WarnWithContext(p.logger, "notification failed", "notify_failed",
			append(attrs,
				logging.String(logging.FieldImpact, "observers miss this update"),
				logging.String(logging.FieldErrorHint, "check the notifications backend"),
			)...)
	case errors.As(err, &statusErr):
		logging.ErrorWithContext(p.logger, "status update failed", "status_update_failed",
			append(attrs,
				logging.String(logging.FieldErrorKind, services.Kind(statusErr.Err)),
				logging.String(logging.FieldErrorHint, "check the workflow repository"),
			)...)
	default:
		logging.ErrorWithContext(p.logger, "cannot handle job event", "unknown_job",
			append(attrs, logging.String(logging.FieldErrorHint, "only cell jobs carry status"))...)
	}
}
