package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/chapterbox/internal/progress"
	"github.com/JakeFAU/chapterbox/internal/store"
)

// StoreSink persists job lifecycle events via a store.HistoryRepository.
// Chapter deliveries inside one batch are collapsed into a single progress
// update per job.
type StoreSink struct {
	repo   store.HistoryRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.HistoryRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume implements progress.Sink. Repository errors are returned verbatim
// after the rest of the batch is skipped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	pending := map[string]int{}
	var order []string

	for _, evt := range batch {
		switch {
		case evt.Stage == progress.StageJobQueued:
			run := store.JobRun{
				ID:          evt.JobID,
				RequesterID: evt.RequesterID,
				Source:      evt.Source,
				Total:       evt.Total,
				SubmittedAt: evt.TS,
			}
			if err := s.repo.RecordQueued(ctx, run); err != nil {
				return fmt.Errorf("record queued: %w", err)
			}
		case evt.Stage == progress.StageJobStart:
			if err := s.repo.MarkStarted(ctx, evt.JobID, evt.TS); err != nil {
				return fmt.Errorf("mark started: %w", err)
			}
		case evt.Stage == progress.StageChapterDelivered:
			if _, seen := pending[evt.JobID]; !seen {
				order = append(order, evt.JobID)
			}
			pending[evt.JobID] = max(pending[evt.JobID], evt.Delivered)
		case evt.Stage.Terminal():
			delete(pending, evt.JobID)
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.Complete(ctx, evt.JobID, evt.TS, evt.Stage.Status(), evt.Delivered, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		}
	}

	for _, id := range order {
		delivered, ok := pending[id]
		if !ok {
			continue
		}
		if err := s.repo.UpdateProgress(ctx, id, delivered); err != nil {
			return fmt.Errorf("update progress: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
