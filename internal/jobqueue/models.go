package jobqueue

import (
	"strings"
	"time"
)

// JobStatus represents the lifecycle of a queued job.
type JobStatus string

const (
	JobQueued  JobStatus = "queued"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	// JobDead marks a failed job parked in the dead-letter registry for
	// operator inspection and manual re-enqueue.
	JobDead JobStatus = "dead"
)

// ParseJobStatus converts a string into a known JobStatus.
func ParseJobStatus(value string) (JobStatus, bool) {
	normalized := JobStatus(strings.ToLower(strings.TrimSpace(value)))
	switch normalized {
	case JobQueued, JobRunning, JobDone, JobDead:
		return normalized, true
	}
	return "", false
}

// Job is one unit of queued work. The row is the wire format: durable,
// consumed at-least-once.
type Job struct {
	ID           string
	Queue        string
	ItemID       string
	SessionToken string
	Status       JobStatus
	Attempt      int
	Error        string
	EnqueuedAt   time.Time
	StartedAt    *time.Time
	FinishedAt   *time.Time
	UpdatedAt    time.Time
}

// Depth summarizes one named queue for the status surface.
type Depth struct {
	Queue   string
	Queued  int
	Running int
	Done    int
	Dead    int
}
