package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/chapterbox/internal/progress"
)

// LogSink writes each event as a structured log line. Chapter fetch events
// are logged at debug level since they are the noisiest.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume implements progress.Sink.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		switch {
		case evt.Stage == progress.StageChapterFetched:
			level = zapcore.DebugLevel
		case evt.Stage == progress.StageJobError, evt.Stage == progress.StageChapterSkipped:
			level = zapcore.WarnLevel
		}
		ce := s.logger.Check(level, "progress event")
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.String("job_id", evt.JobID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("delivered", evt.Delivered),
			zap.Int("total", evt.Total),
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source))
		}
		if evt.Chapter != "" {
			fields = append(fields, zap.String("title", evt.Title), zap.String("chapter", evt.Chapter))
		}
		if evt.Stage == progress.StageChapterFetched {
			fields = append(fields,
				zap.Int("pages", evt.Pages),
				zap.Int("missing", evt.Missing),
				zap.Int64("bytes", evt.Bytes),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	_ = s.logger.Sync() //nolint:errcheck // stderr sync fails on some platforms
	return nil
}
