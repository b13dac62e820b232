// Package delivery applies the retry policy around a manga.Sink and hosts the
// sink implementations.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/manga"
	"github.com/JakeFAU/chapterbox/internal/metrics"
	"github.com/JakeFAU/chapterbox/internal/retry"
)

// Outcome labels recorded for each handoff.
const (
	OutcomeDelivered = "delivered"
	OutcomeAbandoned = "abandoned"
	OutcomeCancelled = "cancelled"
)

// Config tunes the handoff policy.
type Config struct {
	SinkName         string
	TransientRetries int
	TransientBackoff time.Duration
	RateLimitMargin  time.Duration
}

// Handoff sends artifacts through a sink, sleeping through rate limits and
// retrying transient failures a bounded number of times.
type Handoff struct {
	sink      manga.Sink
	sinkName  string
	transient retry.FixedPolicy
	margin    time.Duration
	logger    *zap.Logger
}

// NewHandoff wraps sink with the configured policy.
func NewHandoff(sink manga.Sink, cfg Config, logger *zap.Logger) *Handoff {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SinkName == "" {
		cfg.SinkName = "sink"
	}
	return &Handoff{
		sink:      sink,
		sinkName:  cfg.SinkName,
		transient: retry.FixedPolicy{MaxRetries: cfg.TransientRetries, Delay: cfg.TransientBackoff},
		margin:    cfg.RateLimitMargin,
		logger:    logger.Named("delivery"),
	}
}

// Deliver runs the send loop until success, abandonment, or ctx ends. The
// returned error wraps manga.ErrPermanent or manga.ErrTransient when the
// chapter was abandoned. The caller still owns the artifact.
func (h *Handoff) Deliver(ctx context.Context, recipient string, artifact manga.Artifact) error {
	transientAttempts := 0
	for {
		err := h.sink.Send(ctx, recipient, artifact)
		if err == nil {
			metrics.ObserveDelivery(h.sinkName, OutcomeDelivered)
			return nil
		}
		if ctx.Err() != nil {
			metrics.ObserveDelivery(h.sinkName, OutcomeCancelled)
			return fmt.Errorf("deliver %s: %w", artifact.Filename(), ctx.Err())
		}

		var limited *manga.RateLimitedError
		switch {
		case errors.As(err, &limited):
			wait := limited.RetryAfter + h.margin
			metrics.ObserveDeliveryRetry(h.sinkName, "rate_limited")
			h.logger.Info("sink rate limited; waiting",
				zap.String("filename", artifact.Filename()),
				zap.Duration("retry_after", wait),
			)
			if sleepErr := retry.Sleep(ctx, wait); sleepErr != nil {
				metrics.ObserveDelivery(h.sinkName, OutcomeCancelled)
				return fmt.Errorf("deliver %s: %w", artifact.Filename(), sleepErr)
			}
		case Classify(err) == manga.ErrTransient:
			if !h.transient.ShouldRetry(err, transientAttempts) {
				metrics.ObserveDelivery(h.sinkName, OutcomeAbandoned)
				return fmt.Errorf("deliver %s after %d retries: %w", artifact.Filename(), transientAttempts, wrapClass(err, manga.ErrTransient))
			}
			transientAttempts++
			metrics.ObserveDeliveryRetry(h.sinkName, "transient")
			h.logger.Warn("transient delivery failure; retrying",
				zap.String("filename", artifact.Filename()),
				zap.Int("attempt", transientAttempts),
				zap.Error(err),
			)
			if sleepErr := retry.Sleep(ctx, h.transient.Backoff(transientAttempts)); sleepErr != nil {
				metrics.ObserveDelivery(h.sinkName, OutcomeCancelled)
				return fmt.Errorf("deliver %s: %w", artifact.Filename(), sleepErr)
			}
		default:
			metrics.ObserveDelivery(h.sinkName, OutcomeAbandoned)
			h.logger.Error("permanent delivery failure",
				zap.String("filename", artifact.Filename()),
				zap.Error(err),
			)
			return fmt.Errorf("deliver %s: %w", artifact.Filename(), wrapClass(err, manga.ErrPermanent))
		}
	}
}

// Classify maps a sink error to manga.ErrTransient or manga.ErrPermanent.
// Rate limits are handled separately and report as transient here.
func Classify(err error) error {
	var limited *manga.RateLimitedError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &limited), errors.Is(err, manga.ErrTransient):
		return manga.ErrTransient
	case errors.Is(err, manga.ErrPermanent):
		return manga.ErrPermanent
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return manga.ErrTransient
	}
	return manga.ErrPermanent
}

func wrapClass(err, class error) error {
	if errors.Is(err, class) {
		return err
	}
	return fmt.Errorf("%w: %w", class, err)
}
