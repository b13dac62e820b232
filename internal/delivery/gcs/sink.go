// Package gcs delivers artifacts into a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/packager"
)

const defaultRetryAfter = time.Second

// Config captures the bucket layout.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// Sink uploads archives to <prefix>/<recipient>/<filename>.
type Sink struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed sink.
func New(client *storage.Client, cfg Config) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Sink{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// ObjectName returns the object key for a delivery.
func (s *Sink) ObjectName(recipient, filename string) string {
	return path.Join(s.prefix, recipient, filename)
}

// Send uploads the artifact. The writer only reports errors on Close, so both
// paths go through Classify.
func (s *Sink) Send(ctx context.Context, recipient string, artifact manga.Artifact) error {
	if strings.TrimSpace(artifact.Filename()) == "" {
		return fmt.Errorf("%w: filename is required", manga.ErrPermanent)
	}
	name := s.ObjectName(recipient, artifact.Filename())
	writer := s.client.Bucket(s.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = packager.ContentType
	writer.Metadata = map[string]string{"recipient": recipient}

	if _, err := io.Copy(writer, artifact.Open()); err != nil {
		closeErr := writer.Close()
		if closeErr != nil {
			return Classify(fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr))
		}
		return Classify(fmt.Errorf("copy object: %w", err))
	}
	if err := writer.Close(); err != nil {
		return Classify(fmt.Errorf("close writer: %w", err))
	}
	return nil
}

// Classify maps googleapi errors onto the delivery taxonomy: 429 is rate
// limited, 5xx and 408 are transient, other API errors are permanent.
// Non-API errors are left for the handoff to classify.
func Classify(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return fmt.Errorf("%w (%v)", &manga.RateLimitedError{RetryAfter: retryAfter(apiErr.Header)}, err)
	case apiErr.Code >= 500, apiErr.Code == http.StatusRequestTimeout:
		return fmt.Errorf("%w: %w", manga.ErrTransient, err)
	default:
		return fmt.Errorf("%w: %w", manga.ErrPermanent, err)
	}
}

func retryAfter(h http.Header) time.Duration {
	if h == nil {
		return defaultRetryAfter
	}
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(raw); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return defaultRetryAfter
}
