package eventbus

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/matthewbaird/schemacanvas/internal/event"
	"github.com/matthewbaird/schemacanvas/internal/metrics"
)

// LogConsumer logs canvas events. Sync failures log at warn, drag moves at
// debug, everything else at info.
type LogConsumer struct {
	logger *zap.Logger
}

func NewLogConsumer(logger *zap.Logger) *LogConsumer {
	return &LogConsumer{logger: logger.Named("events")}
}

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.CanvasEvent) error {
	entities := make([]string, len(evt.Affected))
	for i, ref := range evt.Affected {
		entities[i] = ref.Kind + ":" + ref.ID
	}

	level := zapcore.InfoLevel
	switch evt.EventType {
	case event.SyncFailed:
		level = zapcore.WarnLevel
	case event.PositionChanged, event.InteractionChanged:
		level = zapcore.DebugLevel
	}
	if ce := c.logger.Check(level, evt.Summary); ce != nil {
		ce.Write(
			zap.String("type", evt.EventType),
			zap.String("category", evt.Category),
			zap.String("project", evt.ProjectID),
			zap.Strings("entities", entities),
		)
	}
	return nil
}

// MetricsConsumer counts events by type.
type MetricsConsumer struct{}

func NewMetricsConsumer() *MetricsConsumer { return &MetricsConsumer{} }

func (c *MetricsConsumer) HandleEvent(_ context.Context, evt event.CanvasEvent) error {
	metrics.CanvasEventsTotal.WithLabelValues(evt.EventType).Inc()
	return nil
}
