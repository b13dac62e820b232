// Package notify fans user-visible notices out to every configured channel.
package notify

import (
	"context"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/manga"
)

// LogNotifier writes notices to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier builds a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notice")}
}

// Notify implements manga.Notifier.
func (n *LogNotifier) Notify(_ context.Context, recipient string, notice manga.Notice) error {
	n.logger.Info(notice.Text(),
		zap.String("kind", string(notice.Kind)),
		zap.String("job_id", notice.JobID),
		zap.String("recipient", recipient),
	)
	return nil
}

// Fanout delivers each notice to every notifier. Failures are logged and
// combined; one failing channel never blocks the others.
type Fanout struct {
	notifiers []manga.Notifier
	logger    *zap.Logger
}

// NewFanout builds a Fanout over notifiers, skipping nils.
func NewFanout(logger *zap.Logger, notifiers ...manga.Notifier) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fanout{logger: logger.Named("notify")}
	for _, n := range notifiers {
		if n != nil {
			f.notifiers = append(f.notifiers, n)
		}
	}
	return f
}

// Notify implements manga.Notifier.
func (f *Fanout) Notify(ctx context.Context, recipient string, notice manga.Notice) error {
	var errs error
	for _, n := range f.notifiers {
		if err := n.Notify(ctx, recipient, notice); err != nil {
			f.logger.Warn("notifier failed",
				zap.String("kind", string(notice.Kind)),
				zap.String("job_id", notice.JobID),
				zap.Error(err),
			)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
