package manga

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProviderUnavailable marks search or list calls that failed upstream.
	ErrProviderUnavailable = errors.New("provider unavailable")
	// ErrEmptyChapter means no page of the chapter could be obtained.
	ErrEmptyChapter = errors.New("empty chapter")
	// ErrPartialChapter means some pages were dropped while fetching.
	ErrPartialChapter = errors.New("partial chapter")
	// ErrTransient marks network-level delivery failures worth retrying.
	ErrTransient = errors.New("transient network failure")
	// ErrPermanent marks delivery failures that will not clear by retrying.
	ErrPermanent = errors.New("permanent delivery failure")
	// ErrJobFatal aborts the remaining chapters of a single job.
	ErrJobFatal = errors.New("job fatal")

	// ErrUnknownSource is returned when no connector is registered under a name.
	ErrUnknownSource = errors.New("unknown source")
	// ErrNoChapters rejects jobs without chapters.
	ErrNoChapters = errors.New("job has no chapters")
	// ErrTooManyChapters rejects jobs over the configured chapter cap.
	ErrTooManyChapters = errors.New("too many chapters")
	// ErrInvalidTransition guards the job state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrJobNotFound is returned by lookups for unknown or evicted jobs.
	ErrJobNotFound = errors.New("job not found")
)

// RateLimitedError asks the caller to wait RetryAfter before sending again.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.RetryAfter)
}
