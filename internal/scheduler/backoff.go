package scheduler

import (
	"time"
)

// retryDelay returns the wait before the retryCount-th retry: 2^retryCount
// minutes, capped. The cap keeps late retries from drifting into hours while
// preserving the 2, 4, 8 minute spacing of early ones.
func retryDelay(retryCount int, maxDelay time.Duration) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	// Shift overflows past 2^30 minutes; the cap lands long before that.
	if retryCount > 30 {
		retryCount = 30
	}
	delay := time.Duration(1<<uint(retryCount)) * time.Minute
	if maxDelay > 0 && delay > maxDelay {
		return maxDelay
	}
	return delay
}
