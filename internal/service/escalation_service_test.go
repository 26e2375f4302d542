package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-service/internal/domain"
	"github.com/spec-kit/sla-service/internal/notify"
	"github.com/spec-kit/sla-service/internal/policy"
)

func escalationSnapshot(t *testing.T) *policy.Snapshot {
	t.Helper()
	snap, err := policy.Parse([]byte(testPolicy))
	require.NoError(t, err)
	return snap
}

func alertFor(alertType domain.AlertType) *domain.Alert {
	return &domain.Alert{
		ID:                  "alert-1",
		TicketID:            "ticket-1",
		Type:                alertType,
		Dimension:           domain.SLADimensionResponse,
		ThresholdPercentage: 15.0,
		RemainingMinutes:    90,
		Active:              true,
	}
}

func escalationTicket() *domain.Ticket {
	return &domain.Ticket{
		ID:           "ticket-1",
		ExternalID:   "TCK-3001",
		Title:        "Payment gateway timing out for every customer in the EU region",
		Priority:     domain.TicketPriorityP0,
		CustomerTier: domain.CustomerTierEnterprise,
		CreatedAt:    t0,
	}
}

func TestOnAlertRaisesAndDispatches(t *testing.T) {
	transport := &mockTransport{}
	transport.On("PostMessage", mock.Anything, testWebhookURL, "#sla-alerts", mock.Anything).Return(nil)
	svc := NewEscalationService(transport, zap.NewNop(), nil)
	ticket := escalationTicket()
	alert := alertFor(domain.AlertTypeWarning)
	now := t0.Add(time.Hour)

	svc.OnAlert(context.Background(), escalationSnapshot(t), ticket, alert, now)

	assert.Equal(t, domain.EscalationLevel1, ticket.EscalationLevel)
	assert.Equal(t, 1, ticket.EscalationCount)
	assert.True(t, alert.Sent)
	require.NotNil(t, alert.SentAt)
	assert.Equal(t, now, *alert.SentAt)
	transport.AssertExpectations(t)
}

func TestOnAlertCriticalRoutesToCriticalChannel(t *testing.T) {
	transport := &mockTransport{}
	transport.On("PostMessage", mock.Anything, testWebhookURL, "#sla-critical", mock.Anything).Return(nil)
	svc := NewEscalationService(transport, zap.NewNop(), nil)
	ticket := escalationTicket()
	ticket.EscalationLevel = domain.EscalationLevel1

	svc.OnAlert(context.Background(), escalationSnapshot(t), ticket, alertFor(domain.AlertTypeCritical), t0)

	assert.Equal(t, domain.EscalationLevel3, ticket.EscalationLevel)
	transport.AssertExpectations(t)
}

func TestOnAlertNeverLowersEscalation(t *testing.T) {
	transport := &mockTransport{}
	transport.On("PostMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	svc := NewEscalationService(transport, zap.NewNop(), nil)
	ticket := escalationTicket()
	ticket.EscalationLevel = domain.EscalationLevel3
	ticket.EscalationCount = 2

	svc.OnAlert(context.Background(), escalationSnapshot(t), ticket, alertFor(domain.AlertTypeWarning), t0)

	assert.Equal(t, domain.EscalationLevel3, ticket.EscalationLevel)
	assert.Equal(t, 2, ticket.EscalationCount)
}

func TestOnAlertTransportFailureIsContained(t *testing.T) {
	transport := &mockTransport{}
	transport.On("PostMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("timeout"))
	svc := NewEscalationService(transport, zap.NewNop(), nil)
	ticket := escalationTicket()
	alert := alertFor(domain.AlertTypeCritical)

	assert.NotPanics(t, func() {
		svc.OnAlert(context.Background(), escalationSnapshot(t), ticket, alert, t0)
	})
	assert.False(t, alert.Sent)
	assert.Nil(t, alert.SentAt)
	assert.Equal(t, domain.EscalationLevel3, ticket.EscalationLevel)
}

func TestOnAlertSkipsWithoutWebhook(t *testing.T) {
	transport := &mockTransport{}
	svc := NewEscalationService(transport, zap.NewNop(), nil)
	alert := alertFor(domain.AlertTypeWarning)

	svc.OnAlert(context.Background(), policy.Default(), escalationTicket(), alert, t0)

	assert.False(t, alert.Sent)
	transport.AssertNotCalled(t, "PostMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestOnBreachCountsEveryTransition(t *testing.T) {
	svc := NewEscalationService(nil, zap.NewNop(), nil)
	ticket := escalationTicket()
	ticket.EscalationLevel = domain.EscalationLevel4
	ticket.EscalationCount = 3

	svc.OnBreach(ticket, domain.SLADimensionResolution, t0)

	assert.Equal(t, domain.EscalationLevel4, ticket.EscalationLevel)
	assert.Equal(t, 4, ticket.EscalationCount)
	assert.Equal(t, t0, *ticket.LastEscalationAt)
}

func fieldMap(msg notify.Message) map[string]string {
	out := map[string]string{}
	for _, f := range msg.Attachments[0].Fields {
		out[f.Title] = f.Value
	}
	return out
}

func TestFormatAlertMessage(t *testing.T) {
	snap := escalationSnapshot(t)
	ticket := escalationTicket()
	ticket.EscalationLevel = domain.EscalationLevel4
	now := t0.Add(20 * time.Minute)

	t.Run("breach", func(t *testing.T) {
		msg := FormatAlertMessage(snap, ticket, alertFor(domain.AlertTypeBreached), now)
		require.Len(t, msg.Attachments, 1)
		assert.Equal(t, "danger", msg.Attachments[0].Color)
		assert.Equal(t, "SLA Service", msg.Attachments[0].Footer)
		assert.Equal(t, now.Unix(), msg.Attachments[0].TS)
		assert.True(t, strings.Contains(msg.Text, "SLA BREACH ALERT - P0 Priority Ticket"))

		fields := fieldMap(msg)
		assert.Equal(t, "TCK-3001", fields["Ticket ID"])
		assert.Equal(t, "Payment gateway timing out for every customer in t...", fields["Title"])
		assert.Equal(t, "Response", fields["SLA Type"])
		assert.Equal(t, "Enterprise", fields["Customer Tier"])
		assert.Equal(t, "Level 4 - Executive escalation", fields["Escalation Level"])
		assert.Equal(t, "Unassigned", fields["Assigned To"])
		assert.Equal(t, "2025-03-12 10:00 UTC", fields["Created"])
		assert.Equal(t, "2025-03-12 10:20 UTC", fields["Breach Time"])
		assert.NotContains(t, fields, "Time Remaining")
	})

	t.Run("critical", func(t *testing.T) {
		msg := FormatAlertMessage(snap, ticket, alertFor(domain.AlertTypeCritical), now)
		assert.Equal(t, "warning", msg.Attachments[0].Color)
		fields := fieldMap(msg)
		assert.Equal(t, "1h 30m (15.0%)", fields["Time Remaining"])
		assert.NotContains(t, fields, "Breach Time")
	})

	t.Run("warning", func(t *testing.T) {
		assignee := "alice"
		ticket.AssignedTo = &assignee
		ticket.EscalationLevel = domain.EscalationLevel2
		msg := FormatAlertMessage(snap, ticket, alertFor(domain.AlertTypeWarning), now)
		assert.Equal(t, "#ffaa00", msg.Attachments[0].Color)
		fields := fieldMap(msg)
		assert.Equal(t, "alice", fields["Assigned To"])
		assert.Equal(t, "Level 2 - Unknown", fields["Escalation Level"])
	})
}
