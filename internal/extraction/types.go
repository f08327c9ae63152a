package extraction

import (
	"time"
)

// JobStatus represents the lifecycle state of a scheduled job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// JobType identifies the kind of work a job performs.
type JobType string

// Job types the scheduler understands.
const (
	JobTypeContentExtraction JobType = "content-extraction"
	JobTypeAnalyticsBatch    JobType = "analytics-batch"
	JobTypeSystemEvent       JobType = "system-event"
)

// Priority orders jobs in the scheduler queue. Higher values dispatch first.
type Priority int

// Priority levels in order of precedence.
const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 2
	PriorityHigh   Priority = 3
)

// String returns the string representation of a priority.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityLow:
		return "low"
	default:
		return "normal"
	}
}

// ParsePriority converts a string to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "high":
		return PriorityHigh
	case "low":
		return PriorityLow
	default:
		return PriorityNormal
	}
}

// JobParameters captures per-job configuration requested by the submitter.
type JobParameters struct {
	URL               string            `json:"url,omitempty"`
	SnapshotTimestamp string            `json:"snapshot_timestamp,omitempty"`
	Tags              map[string]string `json:"tags,omitempty"`
}

// Job is the unit of scheduled work owned by the scheduler. It is created on
// submission and mutated only by the worker executing it.
type Job struct {
	ID                string        `json:"id"`
	Type              JobType       `json:"type"`
	Priority          Priority      `json:"priority"`
	Status            JobStatus     `json:"status"`
	Parameters        JobParameters `json:"parameters"`
	ScheduledAt       time.Time     `json:"scheduled_at"`
	StartedAt         *time.Time    `json:"started_at,omitempty"`
	CompletedAt       *time.Time    `json:"completed_at,omitempty"`
	Progress          float64       `json:"progress"`
	RetryCount        int           `json:"retry_count"`
	MaxRetries        int           `json:"max_retries"`
	EstimatedMemory   uint64        `json:"estimated_memory"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	ErrorText         string        `json:"error_text,omitempty"`
	Attempts          []Attempt     `json:"attempts,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j Job) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Attempt records one strategy attempt made while executing a job.
type Attempt struct {
	Strategy string    `json:"strategy"`
	Error    string    `json:"error"`
	At       time.Time `json:"at"`
}

// Metadata holds document metadata recovered during extraction.
type Metadata struct {
	Author      string `json:"author,omitempty"`
	Language    string `json:"language,omitempty"`
	Description string `json:"description,omitempty"`
}

// Result is the immutable outcome of extracting one archived page.
type Result struct {
	URL              string        `json:"url"`
	Title            string        `json:"title"`
	Text             string        `json:"text"`
	Markdown         string        `json:"markdown"`
	Metadata         Metadata      `json:"metadata"`
	WordCount        int           `json:"word_count"`
	ExtractionMethod string        `json:"extraction_method"`
	ExtractionTime   time.Duration `json:"extraction_time"`
	FetchedAt        time.Time     `json:"fetched_at"`
	Warnings         []string      `json:"warnings,omitempty"`
}

// DeadLetterEntry is the append-only record of a job that exhausted retries.
type DeadLetterEntry struct {
	JobID    string    `json:"job_id"`
	Job      Job       `json:"job"`
	Attempts []Attempt `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// Page is the raw archived document handed to extraction strategies.
type Page struct {
	URL         string
	Body        []byte
	ContentType string
	FetchedAt   time.Time
	ContentHash string
	BlobURI     string
}
