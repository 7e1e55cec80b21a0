package queue

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cellflow/internal/jobs"
)

const jobColumns = "id, name, queue, status, parent_id, pending_children, data, options, attempts_made, run_at, failed_reason, created_at, updated_at, started_at, finished_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		job          Job
		name         string
		status       string
		parentID     sql.NullString
		data         string
		options      string
		runAtMS      int64
		failedReason sql.NullString
		createdRaw   string
		updatedRaw   string
		startedRaw   sql.NullString
		finishedRaw  sql.NullString
	)
	if err := scanner.Scan(
		&job.ID,
		&name,
		&job.Queue,
		&status,
		&parentID,
		&job.PendingChildren,
		&data,
		&options,
		&job.AttemptsMade,
		&runAtMS,
		&failedReason,
		&createdRaw,
		&updatedRaw,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}
	job.Name = jobs.Name(name)
	job.Status = Status(status)
	job.ParentID = parentID.String
	job.Data = json.RawMessage(data)
	if err := json.Unmarshal([]byte(options), &job.Options); err != nil {
		return nil, fmt.Errorf("decode job %s options: %w", job.ID, err)
	}
	job.RunAt = time.UnixMilli(runAtMS).UTC()
	job.FailedReason = failedReason.String
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	job.StartedAt = parseNullableTime(startedRaw)
	job.FinishedAt = parseNullableTime(finishedRaw)
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer rows.Close()
	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(value sql.NullString) *time.Time {
	if !value.Valid {
		return nil
	}
	t, err := parseTimeString(value.String)
	if err != nil {
		return nil
	}
	return &t
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
