package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"cellflow/internal/logging"
	"cellflow/internal/queue"
	"cellflow/internal/registry"
	"cellflow/internal/services"
)

type laneState struct {
	spec    registry.QueueSpec
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	wake    chan struct{}
	logger  *slog.Logger
}

func (l *laneState) nudge() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (m *Manager) runLane(ctx context.Context, lane *laneState) {
	defer m.wg.Done()
	logger := lane.logger
	if logger == nil {
		logger = m.logger
	}

	for {
		if err := lane.sem.Acquire(ctx, 1); err != nil {
			return
		}
		job, err := m.store.Claim(ctx, lane.spec.Name)
		if err != nil {
			lane.sem.Release(1)
			if ctx.Err() != nil {
				return
			}
			m.handleClaimError(ctx, logger, err)
			continue
		}
		if job == nil {
			lane.sem.Release(1)
			m.waitForJobOrShutdown(ctx, lane)
			continue
		}

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			defer lane.sem.Release(1)
			m.processJob(ctx, lane, logger, job)
		}()
	}
}

func (m *Manager) handleClaimError(ctx context.Context, logger *slog.Logger, err error) {
	m.setLastError(err)
	logger.Error("failed to claim next job",
		logging.Error(err),
		logging.EventType("queue_claim_failed"),
		logging.String(logging.FieldErrorHint, "check job store access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.errorRetryInterval):
	}
}

func (m *Manager) waitForJobOrShutdown(ctx context.Context, lane *laneState) {
	select {
	case <-ctx.Done():
	case <-lane.wake:
	case <-time.After(m.pollInterval):
	}
}

func (m *Manager) processJob(ctx context.Context, lane *laneState, logger *slog.Logger, job *queue.Job) {
	jobCtx := services.WithQueue(services.WithJobID(ctx, job.ID), job.Queue)
	logger = logger.With(
		logging.JobID(job.ID),
		logging.String("job_name", string(job.Name)),
		logging.Int("attempt", job.AttemptsMade),
	)

	// Jobs interrupted here stay active and are requeued by Recover on the
	// next start.
	if err := lane.limiter.Wait(ctx); err != nil {
		logger.Debug("rate limit wait interrupted", logging.Error(err))
		return
	}
	m.emit(ctx, newEvent(EventActive, job))

	handler := m.handlerFor(lane.spec.Name)
	var err error
	if handler == nil {
		err = Unrecoverable(ErrNoHandler)
	} else {
		err = handler.Handle(jobCtx, job)
	}

	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		logger.Info("job interrupted by shutdown", logging.EventType("job_interrupted"))
		return
	}

	// Store transitions must land even when shutdown begins mid-job.
	finalCtx := context.WithoutCancel(ctx)
	if err == nil {
		m.completeJob(ctx, finalCtx, logger, job)
		return
	}
	if IsUnrecoverable(err) || job.AttemptsMade >= job.Options.Attempts {
		m.failJob(ctx, finalCtx, logger, job, err)
		return
	}
	m.retryJob(finalCtx, lane, logger, job, err)
}

func (m *Manager) completeJob(ctx, finalCtx context.Context, logger *slog.Logger, job *queue.Job) {
	if err := m.store.Complete(finalCtx, job.ID); err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to record job completion", "job_complete_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job store access"),
		)
		return
	}
	logger.Debug("job completed", logging.EventType("job_completed"))
	m.emit(ctx, newEvent(EventCompleted, job))
	m.wakeAll()
}

func (m *Manager) failJob(ctx, finalCtx context.Context, logger *slog.Logger, job *queue.Job, cause error) {
	ancestors, err := m.store.Fail(finalCtx, job.ID, cause.Error())
	if err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to record job failure", "job_fail_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job store access"),
		)
		return
	}
	logging.ErrorWithContext(logger, "job failed", "job_failed",
		logging.Error(cause),
		logging.String(logging.FieldErrorKind, services.Kind(cause)),
		logging.Bool("unrecoverable", IsUnrecoverable(cause)),
		logging.Int("dependents_failed", len(ancestors)),
		logging.String(logging.FieldErrorHint, "inspect with cellflow jobs list --status failed"),
	)
	ev := newEvent(EventFailed, job)
	ev.Err = cause
	ev.Reason = cause.Error()
	m.emit(ctx, ev)
	for _, ancestor := range ancestors {
		dep := newEvent(EventFailed, ancestor)
		dep.Reason = queue.ReasonDependencyFailed
		dep.Err = cause
		m.emit(ctx, dep)
	}
}

func (m *Manager) retryJob(finalCtx context.Context, lane *laneState, logger *slog.Logger, job *queue.Job, cause error) {
	delay := job.Options.DelayFor(job.AttemptsMade)
	if err := m.store.Retry(finalCtx, job.ID, time.Now().Add(delay), cause.Error()); err != nil {
		m.setLastError(err)
		logging.ErrorWithContext(logger, "failed to schedule job retry", "job_retry_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check job store access"),
		)
		return
	}
	logging.WarnWithContext(logger, "job attempt failed; retrying", "job_retry_scheduled",
		logging.Error(cause),
		logging.Duration("delay", delay),
		logging.Int("attempts", job.Options.Attempts),
		logging.String(logging.FieldImpact, "cell result delayed"),
		logging.String(logging.FieldErrorHint, "transient failures retry with backoff"),
	)
	time.AfterFunc(delay, lane.nudge)
}
