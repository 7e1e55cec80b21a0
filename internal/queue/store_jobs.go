package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cellflow/internal/jobs"
)

var (
	// ErrInvalidTransition reports a state change the job's status forbids,
	// for example completing a job that is no longer active.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrInvalidFlow reports a submission node without a name or queue.
	ErrInvalidFlow = errors.New("invalid flow")
)

type pendingNode struct {
	flow     *jobs.Flow
	parentID string
}

// AddFlows inserts every node of the forest in one transaction and returns
// the root job ids in submission order.
func (s *Store) AddFlows(ctx context.Context, flows []jobs.Flow) ([]string, error) {
	if len(flows) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var roots []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		roots = roots[:0]
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO jobs (
            id, name, queue, status, parent_id, pending_children, data, options,
            attempts_made, run_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		// Breadth-first so parents exist before their children reference them.
		pending := make([]pendingNode, 0, len(flows))
		for i := range flows {
			pending = append(pending, pendingNode{flow: &flows[i]})
		}
		for head := 0; head < len(pending); head++ {
			node := pending[head]
			id, err := insertFlow(ctx, stmt, node, now)
			if err != nil {
				return err
			}
			if node.parentID == "" {
				roots = append(roots, id)
			}
			for i := range node.flow.Children {
				pending = append(pending, pendingNode{flow: &node.flow.Children[i], parentID: id})
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add flows: %w", err)
	}
	return roots, nil
}

func insertFlow(ctx context.Context, stmt *sql.Stmt, node pendingNode, now time.Time) (string, error) {
	flow := node.flow
	if strings.TrimSpace(string(flow.Name)) == "" || strings.TrimSpace(flow.Queue) == "" {
		return "", fmt.Errorf("%w: name and queue required", ErrInvalidFlow)
	}
	opts := flow.Options
	if opts.Attempts <= 0 {
		opts = jobs.DefaultOptions()
	}
	encodedOpts, err := json.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("encode options: %w", err)
	}
	data := flow.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	status := StatusWaiting
	if len(flow.Children) > 0 {
		status = StatusWaitingChildren
	}
	id := uuid.NewString()
	timestamp := formatTime(now)
	if _, err := stmt.ExecContext(ctx,
		id,
		string(flow.Name),
		flow.Queue,
		status,
		nullableString(node.parentID),
		len(flow.Children),
		string(data),
		string(encodedOpts),
		now.UnixMilli(),
		timestamp,
		timestamp,
	); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// Claim atomically moves the next runnable job of a queue to active and
// increments its attempt counter. It returns nil when nothing is runnable.
func (s *Store) Claim(ctx context.Context, queueName string) (*Job, error) {
	ctx = ensureContext(ctx)
	now := time.Now().UTC()
	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`UPDATE jobs
             SET status = ?, attempts_made = attempts_made + 1, started_at = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE queue = ? AND status IN (?, ?) AND run_at <= ?
                 ORDER BY run_at, rowid
                 LIMIT 1
             )
             RETURNING `+jobColumns,
			StatusActive,
			formatTime(now),
			formatTime(now),
			queueName,
			StatusWaiting,
			StatusDelayed,
			now.UnixMilli(),
		)
		claimed, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			job = nil
			return nil
		}
		if err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Complete marks an active job completed and releases its parent once the
// parent has no pending children left.
func (s *Store) Complete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var parentID sql.NullString
		err := tx.QueryRowContext(ctx,
			`UPDATE jobs SET status = ?, finished_at = ?, updated_at = ?, failed_reason = NULL
             WHERE id = ? AND status = ?
             RETURNING parent_id`,
			StatusCompleted, formatTime(now), formatTime(now), id, StatusActive,
		).Scan(&parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: job %s is not active", ErrInvalidTransition, id)
		}
		if err != nil {
			return err
		}
		if !parentID.Valid {
			return nil
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE jobs
             SET pending_children = pending_children - 1,
                 status = CASE WHEN pending_children <= 1 AND status = ? THEN ? ELSE status END,
                 run_at = CASE WHEN pending_children <= 1 AND status = ? THEN ? ELSE run_at END,
                 updated_at = ?
             WHERE id = ?`,
			StatusWaitingChildren, StatusWaiting,
			StatusWaitingChildren, now.UnixMilli(),
			formatTime(now),
			parentID.String,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	return nil
}

// Retry schedules an active job for another attempt at runAt.
func (s *Store) Retry(ctx context.Context, id string, runAt time.Time, reason string) error {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, run_at = ?, failed_reason = ?, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusDelayed, runAt.UTC().UnixMilli(), nullableString(reason), formatTime(time.Now()), id, StatusActive,
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("retry job: %w: job %s is not active", ErrInvalidTransition, id)
	}
	return nil
}

// Fail terminally fails an active job and every unfinished ancestor, which
// can no longer run. It returns the ancestors that were failed.
func (s *Store) Fail(ctx context.Context, id, reason string) ([]*Job, error) {
	now := time.Now().UTC()
	var ancestors []*Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		ancestors = ancestors[:0]
		var parentID sql.NullString
		err := tx.QueryRowContext(ctx,
			`UPDATE jobs SET status = ?, failed_reason = ?, finished_at = ?, updated_at = ?
             WHERE id = ? AND status = ?
             RETURNING parent_id`,
			StatusFailed, nullableString(reason), formatTime(now), formatTime(now), id, StatusActive,
		).Scan(&parentID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: job %s is not active", ErrInvalidTransition, id)
		}
		if err != nil {
			return err
		}
		next := parentID.String
		for next != "" {
			row := tx.QueryRowContext(ctx,
				`UPDATE jobs SET status = ?, failed_reason = ?, finished_at = ?, updated_at = ?
                 WHERE id = ? AND status NOT IN (?, ?)
                 RETURNING `+jobColumns,
				StatusFailed, ReasonDependencyFailed, formatTime(now), formatTime(now),
				next, StatusCompleted, StatusFailed,
			)
			ancestor, err := scanJob(row)
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			if err != nil {
				return err
			}
			ancestors = append(ancestors, ancestor)
			next = ancestor.ParentID
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}
	return ancestors, nil
}

// Get fetches a job by id. A missing job yields (nil, nil).
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Children returns the direct children of a job.
func (s *Store) Children(ctx context.Context, id string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		`SELECT `+jobColumns+` FROM jobs WHERE parent_id = ? ORDER BY rowid`, id)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return scanJobs(rows)
}

// List returns jobs matching the filter ordered by creation.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Queue != "" {
		clauses = append(clauses, "queue = ?")
		args = append(args, filter.Queue)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY rowid"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return scanJobs(rows)
}

// Stats counts jobs per queue and status.
func (s *Store) Stats(ctx context.Context) (map[string]Counts, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), `SELECT queue, status, COUNT(1) FROM jobs GROUP BY queue, status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]Counts)
	for rows.Next() {
		var (
			queueName string
			status    Status
			count     int
		)
		if err := rows.Scan(&queueName, &status, &count); err != nil {
			return nil, err
		}
		if stats[queueName] == nil {
			stats[queueName] = make(Counts)
		}
		stats[queueName][status] = count
	}
	return stats, rows.Err()
}

// Recover returns jobs left active by a previous process to waiting.
func (s *Store) Recover(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(ctx,
		`UPDATE jobs SET status = ?, updated_at = ? WHERE status = ?`,
		StatusWaiting, formatTime(time.Now()), StatusActive,
	)
	if err != nil {
		return 0, fmt.Errorf("recover active jobs: %w", err)
	}
	return res.RowsAffected()
}

// Clear deletes jobs with the given statuses, or every job when none are given.
func (s *Store) Clear(ctx context.Context, statuses ...Status) (int64, error) {
	query := `DELETE FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("clear jobs: %w", err)
	}
	return res.RowsAffected()
}
