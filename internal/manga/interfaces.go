package manga

import (
	"context"
	"fmt"
	"io"
)

// Connector is the capability set every provider implements.
type Connector interface {
	Name() string
	Search(ctx context.Context, query string) ([]Ref, error)
	ListChapters(ctx context.Context, ref Ref) ([]ChapterRef, error)
	// ListPages returns the ordered pages of a chapter. An empty slice means
	// the chapter is unavailable, not an error.
	ListPages(ctx context.Context, chapter ChapterRef) ([]ImageRef, error)
}

// Artifact is a packaged chapter ready for delivery.
type Artifact interface {
	Filename() string
	Size() int64
	// Open returns a fresh reader over the whole artifact so sinks can retry.
	Open() io.Reader
}

// Sink hands an artifact to its final destination. Errors are classified
// with *RateLimitedError, ErrTransient, and ErrPermanent.
type Sink interface {
	Send(ctx context.Context, recipient string, artifact Artifact) error
}

// Notifier relays user-visible notices to the requester.
type Notifier interface {
	Notify(ctx context.Context, recipient string, notice Notice) error
}

// NoticeKind enumerates user-visible notices.
type NoticeKind string

// Supported notice kinds.
const (
	NoticeAccepted       NoticeKind = "accepted"
	NoticeChapterSkipped NoticeKind = "chapter_skipped"
	NoticeChapterPartial NoticeKind = "chapter_partial"
	NoticeJobFinished    NoticeKind = "job_finished"
)

// Notice is a user-facing message about a job.
type Notice struct {
	Kind      NoticeKind `json:"kind"`
	JobID     string     `json:"job_id"`
	Title     string     `json:"title,omitempty"`
	Chapter   ChapterRef `json:"chapter,omitzero"`
	Status    JobStatus  `json:"status,omitempty"`
	Delivered int        `json:"delivered"`
	Total     int        `json:"total"`
	Missing   int        `json:"missing,omitempty"`
	Reason    string     `json:"reason,omitempty"`
}

// Text renders the notice as a single line for chat or log output.
func (n Notice) Text() string {
	switch n.Kind {
	case NoticeAccepted:
		return fmt.Sprintf("Download accepted (job %s): %d chapters queued", n.JobID, n.Total)
	case NoticeChapterSkipped:
		return fmt.Sprintf("Skipped %s: %s", n.chapterName(), n.Reason)
	case NoticeChapterPartial:
		return fmt.Sprintf("%s delivered with %d missing pages", n.chapterName(), n.Missing)
	case NoticeJobFinished:
		return fmt.Sprintf("Job %s %s: delivered %d of %d chapters", n.JobID, n.Status, n.Delivered, n.Total)
	default:
		return string(n.Kind)
	}
}

func (n Notice) chapterName() string {
	if n.Title == "" {
		return n.Chapter.Label()
	}
	return n.Title + " " + n.Chapter.Label()
}
