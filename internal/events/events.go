// Package events delivers security events to audit and dashboard
// consumers.
package events

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/nshruti113/request-shield/internal/models"
	"github.com/nshruti113/request-shield/internal/storage"
)

// Channel is the pub/sub channel security events are published on.
const Channel = "security:events"

// Sink consumes security events. Emit must not block request handling
// on slow consumers; implementations log and drop on failure.
type Sink interface {
	Emit(ctx context.Context, event models.SecurityEvent)
}

// LogSink writes events to the structured log.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Emit(_ context.Context, event models.SecurityEvent) {
	cats := make([]string, 0, len(event.Categories))
	for _, c := range event.Categories {
		cats = append(cats, string(c))
	}
	s.logger.Warn("security event",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.String("client_id", event.ClientID),
		zap.String("ip", event.IP),
		zap.String("path", event.Path),
		zap.String("method", event.Method),
		zap.Strings("categories", cats),
		zap.String("severity", string(event.Severity)),
	)
}

// StoreSink publishes events on the store's pub/sub channel so that
// external audit consumers and other instances can subscribe.
type StoreSink struct {
	store  storage.Store
	logger *zap.Logger
}

func NewStoreSink(store storage.Store, logger *zap.Logger) *StoreSink {
	return &StoreSink{store: store, logger: logger}
}

func (s *StoreSink) Emit(ctx context.Context, event models.SecurityEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("marshaling security event", zap.Error(err))
		return
	}
	if err := s.store.Publish(ctx, Channel, data); err != nil {
		s.logger.Error("publishing security event", zap.Error(err))
	}
}

// Multi fans one event out to several sinks.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, event models.SecurityEvent) {
	for _, sink := range m {
		sink.Emit(ctx, event)
	}
}
