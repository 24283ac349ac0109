package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/corpus-crawler/internal/progress"
)

// LogSink writes one structured line per event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger; nil logs nothing.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the batch. Error stages log at warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Source != "" {
			fields = append(fields, zap.String("source", evt.Source))
		}
		if evt.Domain != "" {
			fields = append(fields, zap.String("domain", evt.Domain))
		}
		if evt.Shard != "" {
			fields = append(fields, zap.String("shard", evt.Shard), zap.Int64("bytes", evt.Bytes))
		}
		if evt.Records > 0 || evt.Stage == progress.StageSourceDone {
			fields = append(fields, zap.Int("records", evt.Records))
		}
		if evt.Stage == progress.StageSourceDone {
			fields = append(fields, zap.Int("skipped", evt.Skipped), zap.Int("rejected", evt.Rejected))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageSourceError, progress.StageRunError:
			s.logger.Warn("run progress", fields...)
		default:
			s.logger.Info("run progress", fields...)
		}
	}
	return nil
}

// Close is a no-op.
func (s *LogSink) Close(context.Context) error { return nil }
