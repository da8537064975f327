package session

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type sessionMetrics struct {
	events     metric.Int64Counter
	frames     metric.Int64Counter
	reconnects metric.Int64Counter
}

func newSessionMetrics(log *slog.Logger) sessionMetrics {
	meter := otel.Meter("github.com/rexdesk/rex-core/session")
	var m sessionMetrics
	var err error
	m.events, err = meter.Int64Counter("rex.session.events", metric.WithDescription("Server events received"))
	if err == nil {
		m.frames, err = meter.Int64Counter("rex.session.frames_sent", metric.WithDescription("Audio frames sent upstream"))
	}
	if err == nil {
		m.reconnects, err = meter.Int64Counter("rex.session.reconnects", metric.WithDescription("Reconnection attempts"))
	}
	if err != nil {
		log.Warn("failed to initialize session metrics", slog.String("error", err.Error()))
	}
	return m
}

func (m sessionMetrics) addEvent() {
	if m.events != nil {
		m.events.Add(context.Background(), 1)
	}
}

func (m sessionMetrics) addFrame() {
	if m.frames != nil {
		m.frames.Add(context.Background(), 1)
	}
}

func (m sessionMetrics) addReconnect() {
	if m.reconnects != nil {
		m.reconnects.Add(context.Background(), 1)
	}
}
