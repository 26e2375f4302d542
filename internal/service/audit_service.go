package service

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/spec-kit/sla-service/internal/events"
)

// AuditService writes every domain event to the structured log.
type AuditService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// NewAuditService creates the service.
func NewAuditService(dispatcher events.Dispatcher, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditService{
		dispatcher: dispatcher,
		logger:     logger.Named("audit"),
	}
}

// RegisterHandlers subscribes to events.
func (a *AuditService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	for _, t := range events.AllEventTypes {
		a.dispatcher.Subscribe(t, a.handle)
	}
}

func (a *AuditService) handle(_ context.Context, event events.Event) error {
	level := zapcore.InfoLevel
	switch event.Type {
	case events.EventSLABreached, events.EventSLAEscalated:
		level = zapcore.WarnLevel
	case events.EventSLACycleCompleted:
		level = zapcore.DebugLevel
	}
	if ce := a.logger.Check(level, string(event.Type)); ce != nil {
		fields := []zap.Field{
			zap.String("event_id", event.ID),
			zap.String("actor_type", event.Actor.Type),
			zap.Time("timestamp", event.Timestamp),
			zap.Any("payload", event.Payload),
		}
		if event.TicketID != "" {
			fields = append(fields, zap.String("ticket_id", event.TicketID))
		}
		if event.Actor.ID != nil {
			fields = append(fields, zap.String("actor_id", *event.Actor.ID))
		}
		ce.Write(fields...)
	}
	return nil
}
