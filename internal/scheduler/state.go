// Package scheduler coordinates extraction and analytics jobs under
// concurrency and resource limits: a priority queue feeds a dispatch loop,
// failures retry with exponential backoff, and exhausted jobs land in the
// dead-letter queue.
package scheduler

import (
	"fmt"

	"github.com/pagevault/extractor/internal/extraction"
)

// validTransitions is the closed job state machine. Status changes outside
// this table are bugs, not data.
var validTransitions = map[extraction.JobStatus][]extraction.JobStatus{
	extraction.JobStatusPending: {
		extraction.JobStatusRunning,   // dispatched
		extraction.JobStatusCancelled, // cancelled while queued
	},
	extraction.JobStatusRunning: {
		extraction.JobStatusCompleted, // successful execution
		extraction.JobStatusFailed,    // execution error or timeout
		extraction.JobStatusCancelled, // cancelled mid-flight
	},
	extraction.JobStatusFailed: {
		extraction.JobStatusPending, // retry with backoff while budget remains
	},
	extraction.JobStatusCompleted: {},
	extraction.JobStatusCancelled: {},
}

// ValidateTransition checks whether a job status change is allowed.
func ValidateTransition(from, to extraction.JobStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source status: %s", from)
	}
	for _, status := range allowed {
		if status == to {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition from %s to %s", from, to)
}
