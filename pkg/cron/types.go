package cron

import "time"

// JobState is the runtime state of a job.
type JobState struct {
	NextRunAt  time.Time `json:"nextRunAt,omitempty"`
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"` // ok, error
	LastError  string    `json:"lastError,omitempty"`
	Runs       int       `json:"runs"`
}

// Job is a named maintenance task run on a schedule.
type Job struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Schedule string   `json:"schedule"` // standard 5-field expression or @every/@hourly descriptor
	State    JobState `json:"state"`
}
