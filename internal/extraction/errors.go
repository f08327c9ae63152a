package extraction

import (
	"errors"
	"fmt"
	"strings"
)

// ErrJobNotFound is returned by stores when a job ID is unknown.
var ErrJobNotFound = errors.New("job not found")

// ErrMalformedURL marks submissions that fail fast before any strategy runs.
var ErrMalformedURL = errors.New("malformed url")

// ErrLowQuality marks strategy output below the minimum word count. The chain
// treats it as a failure and cascades to the next strategy.
var ErrLowQuality = errors.New("content below quality bar")

// ExhaustedError is returned when every strategy in the chain failed or was
// unavailable. It carries the per-strategy attempts for DLQ attachment.
type ExhaustedError struct {
	URL      string
	Attempts []Attempt
}

// Error implements the error interface.
func (e *ExhaustedError) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, a.Strategy)
	}
	if len(names) == 0 {
		return fmt.Sprintf("extraction exhausted for %s: no strategy available", e.URL)
	}
	return fmt.Sprintf("extraction exhausted for %s after %d attempts (%s)",
		e.URL, len(e.Attempts), strings.Join(names, ", "))
}

// IsExhausted reports whether err wraps an ExhaustedError.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
