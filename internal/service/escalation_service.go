package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sla-service/internal/domain"
	"github.com/spec-kit/sla-service/internal/notify"
	"github.com/spec-kit/sla-service/internal/observability"
	"github.com/spec-kit/sla-service/internal/policy"
	"github.com/spec-kit/sla-service/internal/sla"
)

const (
	notificationFooter = "SLA Service"
	titlePreviewLength = 50
	slackTimeLayout    = "2006-01-02 15:04 UTC"
)

// Notification outcomes recorded per alert.
const (
	outcomeSent    = "sent"
	outcomeFailed  = "failed"
	outcomeSkipped = "skipped"
)

// alertEscalation maps an alert type to the level it raises the ticket to.
var alertEscalation = map[domain.AlertType]domain.EscalationLevel{
	domain.AlertTypeWarning:  domain.EscalationLevel1,
	domain.AlertTypeCritical: domain.EscalationLevel3,
	domain.AlertTypeBreached: domain.EscalationLevel4,
}

// EscalationService raises ticket escalation for new alerts and breaches and
// delivers alert notifications. It only mutates the values it is handed; the
// caller persists them.
type EscalationService struct {
	transport notify.Transport
	logger    *zap.Logger
	metrics   *observability.Metrics
}

// NewEscalationService constructs the service.
func NewEscalationService(transport notify.Transport, logger *zap.Logger, metrics *observability.Metrics) *EscalationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationService{transport: transport, logger: logger, metrics: metrics}
}

// OnAlert raises the ticket to at least the level implied by the alert type,
// then dispatches the alert. Delivery failures are logged and leave
// alert.Sent false.
func (s *EscalationService) OnAlert(ctx context.Context, snap *policy.Snapshot, ticket *domain.Ticket, alert *domain.Alert, now time.Time) {
	if level, ok := alertEscalation[alert.Type]; ok {
		s.Raise(ticket, level, now)
	}
	s.dispatch(ctx, snap, ticket, alert, now)
}

// OnBreach forces the ticket to the top level. Every breach transition counts
// as an escalation even when the ticket is already at the top.
func (s *EscalationService) OnBreach(ticket *domain.Ticket, dim domain.SLADimension, now time.Time) {
	ticket.EscalationLevel = domain.MaxEscalationLevel
	ticket.EscalationCount++
	stamp := now
	ticket.LastEscalationAt = &stamp
	s.metrics.EscalationRaised(int(domain.MaxEscalationLevel))
	s.logger.Warn("sla breached",
		zap.String("ticket_id", ticket.ID),
		zap.String("external_id", ticket.ExternalID),
		zap.String("sla_dimension", string(dim)),
	)
}

// Raise moves the ticket to level when that is higher than its current
// level. It reports whether the level changed.
func (s *EscalationService) Raise(ticket *domain.Ticket, level domain.EscalationLevel, now time.Time) bool {
	if level <= ticket.EscalationLevel {
		return false
	}
	old := ticket.EscalationLevel
	ticket.EscalationLevel = level
	ticket.EscalationCount++
	stamp := now
	ticket.LastEscalationAt = &stamp
	s.metrics.EscalationRaised(int(level))
	s.logger.Info("escalation raised",
		zap.String("ticket_id", ticket.ID),
		zap.Int("old_level", int(old)),
		zap.Int("new_level", int(level)),
	)
	return true
}

func (s *EscalationService) dispatch(ctx context.Context, snap *policy.Snapshot, ticket *domain.Ticket, alert *domain.Alert, now time.Time) {
	target, ok := snap.SlackWebhook()
	if !ok || s.transport == nil {
		s.logger.Debug("webhook not configured, skipping notification",
			zap.String("ticket_id", ticket.ID),
			zap.String("alert_type", string(alert.Type)))
		s.metrics.NotificationDispatched(outcomeSkipped)
		return
	}

	channel := snap.Channel(channelFor(alert.Type))
	msg := FormatAlertMessage(snap, ticket, alert, now)
	if err := s.transport.PostMessage(ctx, target.URL, channel, msg); err != nil {
		alert.Sent = false
		alert.SentAt = nil
		s.logger.Error("alert notification failed",
			zap.String("ticket_id", ticket.ID),
			zap.String("alert_type", string(alert.Type)),
			zap.String("channel", channel),
			zap.Error(err))
		s.metrics.NotificationDispatched(outcomeFailed)
		return
	}
	sentAt := now
	alert.Sent = true
	alert.SentAt = &sentAt
	s.metrics.NotificationDispatched(outcomeSent)
}

func channelFor(t domain.AlertType) string {
	if t == domain.AlertTypeWarning {
		return policy.ChannelGeneral
	}
	return policy.ChannelCritical
}

// FormatAlertMessage renders the chat message for an alert.
func FormatAlertMessage(snap *policy.Snapshot, ticket *domain.Ticket, alert *domain.Alert, now time.Time) notify.Message {
	var text, color string
	switch alert.Type {
	case domain.AlertTypeBreached:
		text = fmt.Sprintf(":rotating_light: SLA BREACH ALERT - %s Priority Ticket", ticket.Priority)
		color = "danger"
	case domain.AlertTypeCritical:
		text = fmt.Sprintf(":red_circle: CRITICAL SLA ALERT - %s Priority Ticket", ticket.Priority)
		color = "warning"
	default:
		text = fmt.Sprintf(":warning: SLA WARNING - %s Priority Ticket", ticket.Priority)
		color = "#ffaa00"
	}

	assignee := "Unassigned"
	if ticket.AssignedTo != nil && *ticket.AssignedTo != "" {
		assignee = *ticket.AssignedTo
	}
	escalation := fmt.Sprintf("Level %d - %s", ticket.EscalationLevel, snap.EscalationLabel(ticket.EscalationLevel))

	fields := []notify.Field{
		{Title: "Ticket ID", Value: ticket.ExternalID, Short: true},
		{Title: "Title", Value: titlePreview(ticket.Title), Short: true},
		{Title: "SLA Type", Value: titleCase(string(alert.Dimension)), Short: true},
	}
	if alert.Type != domain.AlertTypeBreached {
		fields = append(fields, notify.Field{
			Title: "Time Remaining",
			Value: fmt.Sprintf("%s (%.1f%%)", sla.FormatDuration(alert.RemainingMinutes), alert.ThresholdPercentage),
			Short: true,
		})
	}
	fields = append(fields,
		notify.Field{Title: "Customer Tier", Value: titleCase(string(ticket.CustomerTier)), Short: true},
		notify.Field{Title: "Escalation Level", Value: escalation, Short: true},
		notify.Field{Title: "Assigned To", Value: assignee, Short: true},
		notify.Field{Title: "Created", Value: ticket.CreatedAt.UTC().Format(slackTimeLayout), Short: true},
	)
	if alert.Type == domain.AlertTypeBreached {
		fields = append(fields, notify.Field{Title: "Breach Time", Value: now.UTC().Format(slackTimeLayout), Short: true})
	}

	return notify.Message{
		Text: text,
		Attachments: []notify.Attachment{{
			Color:  color,
			Fields: fields,
			Footer: notificationFooter,
			TS:     now.Unix(),
		}},
	}
}

func titlePreview(title string) string {
	runes := []rune(title)
	if len(runes) > titlePreviewLength {
		return string(runes[:titlePreviewLength]) + "..."
	}
	return title
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	lower := strings.ToLower(s)
	return strings.ToUpper(lower[:1]) + lower[1:]
}
