package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/leadharvest/orchestrator/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("project_id", evt.ProjectID),
			zap.String("stage", string(evt.Stage)),
			zap.Int64("processed_delta", evt.ProcessedDelta),
			zap.Int64("result_delta", evt.ResultDelta),
			zap.Duration("dur", evt.Dur),
			zap.String("note", evt.Note),
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
