package ipc

// StartRequest triggers daemon startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon engines.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// PollStatus describes poll engine progress.
type PollStatus struct {
	Running      bool   `json:"running"`
	StopReason   string `json:"stop_reason"`
	Cycles       int    `json:"cycles"`
	LastScanned  int    `json:"last_scanned"`
	LastAdvanced int    `json:"last_advanced"`
	LastError    string `json:"last_error"`
}

// QueueDepth describes one job queue's depth by status.
type QueueDepth struct {
	Queue   string `json:"queue"`
	Queued  int    `json:"queued"`
	Running int    `json:"running"`
	Done    int    `json:"done"`
	Dead    int    `json:"dead"`
}

// StepHealth describes readiness of a registered step.
type StepHealth struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail"`
}

// DependencyStatus describes availability of an external tool.
type DependencyStatus struct {
	Name      string `json:"name"`
	Command   string `json:"command"`
	Optional  bool   `json:"optional"`
	Available bool   `json:"available"`
	Detail    string `json:"detail"`
}

// StatusResponse represents combined daemon and engine status information.
type StatusResponse struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	LockPath     string             `json:"lock_path"`
	JobDBPath    string             `json:"job_db_path"`
	Poll         PollStatus         `json:"poll"`
	Queues       []QueueDepth       `json:"queues"`
	StepHealth   []StepHealth       `json:"step_health"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// JobRecord mirrors a job row for CLI display.
type JobRecord struct {
	ID         string `json:"id"`
	Queue      string `json:"queue"`
	ItemID     string `json:"item_id"`
	Status     string `json:"status"`
	Attempt    int    `json:"attempt"`
	Error      string `json:"error"`
	EnqueuedAt string `json:"enqueued_at"`
	UpdatedAt  string `json:"updated_at"`
}

// DeadLetterRequest lists jobs in the dead-letter registry.
type DeadLetterRequest struct{}

// DeadLetterResponse contains dead jobs, newest first.
type DeadLetterResponse struct {
	Jobs []JobRecord `json:"jobs"`
}

// RequeueRequest moves a dead job back to queued.
type RequeueRequest struct {
	JobID string `json:"job_id"`
}

// RequeueResponse reports the requeue outcome.
type RequeueResponse struct {
	Requeued bool `json:"requeued"`
}

// ClearDoneRequest removes completed job rows older than the given age.
type ClearDoneRequest struct {
	OlderThanSeconds int `json:"older_than_seconds"`
}

// ClearDoneResponse reports number of removed rows.
type ClearDoneResponse struct {
	Removed int `json:"removed"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}
