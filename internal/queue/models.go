package queue

import (
	"encoding/json"
	"time"

	"cellflow/internal/jobs"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusWaiting         Status = "waiting"
	StatusWaitingChildren Status = "waiting-children"
	StatusDelayed         Status = "delayed"
	StatusActive          Status = "active"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// ReasonDependencyFailed is recorded on ancestors of a terminally failed job.
const ReasonDependencyFailed = "dependency failed"

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusWaitingChildren,
		StatusWaiting,
		StatusDelayed,
		StatusActive,
		StatusCompleted,
		StatusFailed,
	}
}

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one persisted node of a submitted flow.
type Job struct {
	ID              string
	Name            jobs.Name
	Queue           string
	Status          Status
	ParentID        string
	PendingChildren int
	Data            json.RawMessage
	Options         jobs.Options
	AttemptsMade    int
	RunAt           time.Time
	FailedReason    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	Queue    string
	Statuses []Status
	Limit    int
}

// Counts maps statuses to job counts.
type Counts map[Status]int

// Total sums the counts.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}
