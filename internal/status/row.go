package status

import (
	"context"
	"log/slog"

	"cellflow/internal/jobs"
	"cellflow/internal/logging"
	"cellflow/internal/notifications"
	"cellflow/internal/queue"
	"cellflow/internal/worker"
)

// RowEvent is the payload of row-completed notifications.
type RowEvent struct {
	Row        int    `json:"row"`
	UserID     string `json:"userId"`
	WorkflowID string `json:"workflowId"`
}

// RowHandler runs row-completion jobs. It only announces the row; it does
// not inspect the row's cells.
type RowHandler struct {
	notifier notifications.Notifier
	logger   *slog.Logger
}

// NewRowHandler builds the row queue handler.
func NewRowHandler(notifier notifications.Notifier, logger *slog.Logger) *RowHandler {
	if notifier == nil {
		notifier = notifications.Noop{}
	}
	return &RowHandler{notifier: notifier, logger: logging.NewComponentLogger(logger, component)}
}

// Handle emits row-completed. Notification failures are logged and the job
// still succeeds.
func (h *RowHandler) Handle(ctx context.Context, job *queue.Job) error {
	payload, err := jobs.DecodeRow(job.Name, job.Data)
	if err != nil {
		return worker.Unrecoverable(err)
	}
	data := RowEvent{Row: payload.Row, UserID: payload.UserID, WorkflowID: payload.WorkflowID}
	if err := h.notifier.Emit(ctx, notifications.Room(payload.UserID, payload.WorkflowID), notifications.EventRowCompleted, data); err != nil {
		logging.WarnWithContext(h.logger, "row notification failed", "notify_failed",
			logging.JobID(job.ID),
			logging.WorkflowID(payload.WorkflowID),
			logging.Int("row", payload.Row),
			logging.Error(err),
			logging.String(logging.FieldImpact, "observers miss the row completion"),
			logging.String(logging.FieldErrorHint, "check the notifications backend"),
		)
		return nil
	}
	h.logger.Debug("row completed",
		logging.WorkflowID(payload.WorkflowID),
		logging.Int("row", payload.Row),
	)
	return nil
}

var _ worker.Handler = (*RowHandler)(nil)
