package models

import "time"

// JobType identifies which queue lane a job runs on.
type JobType string

// Queue job types. PDF/DOCX jobs run on the fast lane; HWP/HWPX
// conversions are slow and isolated so they cannot starve fast traffic.
const (
	JobTypeFastPipeline JobType = "fast_pipeline"
	JobTypeSlowPipeline JobType = "slow_pipeline"
)

// PipelineJob is the unit of work carried on the Redis queues. Kwargs is
// kept verbatim so a DLQ retry re-runs with the exact original arguments.
type PipelineJob struct {
	JobID      string         `json:"job_id"`
	UserID     string         `json:"user_id"`
	Type       JobType        `json:"job_type"`
	FilePath   string         `json:"file_path"`
	FileName   string         `json:"file_name"`
	Mode       string         `json:"mode,omitempty"` // phase_1 | phase_2
	Kwargs     map[string]any `json:"kwargs,omitempty"`
	Attempt    int            `json:"attempt"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
}

// DLQEntry is the durable record of a job that exhausted all retries.
type DLQEntry struct {
	DLQID      string         `json:"dlq_id"`
	JobID      string         `json:"job_id"`
	UserID     string         `json:"user_id"`
	JobType    JobType        `json:"job_type"`
	ErrorType  string         `json:"error_type"`
	RetryCount int            `json:"retry_count"`
	FailedAt   time.Time      `json:"failed_at"`
	JobKwargs  map[string]any `json:"job_kwargs,omitempty"`
	Traceback  string         `json:"traceback,omitempty"`
}

// DLQStats aggregates DLQ entries for the stats endpoint.
type DLQStats struct {
	Total       int            `json:"total"`
	ByJobType   map[string]int `json:"by_job_type"`
	ByErrorType map[string]int `json:"by_error_type"`
	ByUser      map[string]int `json:"by_user"`
}
