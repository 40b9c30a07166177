package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/urlhealth/internal/progress"
)

// LogSink writes one structured log line per progress event.
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

// Consume logs each event. Probe completions go to debug, batch milestones to info.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("batch_id", evt.BatchID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		switch evt.Stage {
		case progress.StageBatchStart:
			fields = append(fields, zap.Int("total", evt.Total))
			s.logger.Info("batch started", fields...)
		case progress.StageProbeDone:
			fields = append(fields,
				zap.String("site", evt.Site),
				zap.String("url", evt.URL),
				zap.Int("status", evt.StatusCode),
				zap.String("kind", evt.Kind),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Debug("probe done", fields...)
		case progress.StageBatchDone:
			fields = append(fields, zap.String("result", evt.Result), zap.Duration("dur", evt.Dur))
			s.logger.Info("batch done", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
