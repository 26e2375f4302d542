package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/sla-service/internal/domain"
	"github.com/spec-kit/sla-service/internal/events"
	"github.com/spec-kit/sla-service/internal/repository"
	"github.com/spec-kit/sla-service/internal/sla"
	apperrors "github.com/spec-kit/sla-service/pkg/util/errorutil"
)

func TestCycleBreachesEnterpriseP0AfterSixteenMinutes(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	ticket := f.createTicket(t, "TCK-1001", domain.TicketPriorityP0)

	f.clock.Advance(16 * time.Minute)
	result, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.AlertsCreated)
	assert.Equal(t, 1, result.BreachesDetected)

	stored := f.reload(t, ticket.ID)
	assert.Equal(t, domain.SLAStatusBreached, stored.Response.Status)
	assert.Equal(t, 0, stored.Response.RemainingMinutes)
	assert.Equal(t, domain.SLAStatusCompliant, stored.Resolution.Status)
	assert.Equal(t, domain.EscalationLevel4, stored.EscalationLevel)
	require.NotNil(t, stored.LastEscalationAt)

	alerts := f.alerts(t, ticket.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertTypeBreached, alerts[0].Type)
	assert.Equal(t, domain.SLADimensionResponse, alerts[0].Dimension)
	assert.True(t, alerts[0].Active)
	assert.True(t, alerts[0].Sent)
	f.transport.AssertCalled(t, "PostMessage", mock.Anything, testWebhookURL, "#sla-critical", mock.Anything)
}

func TestCycleWarnsEnterpriseP0AfterThirteenMinutes(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	ticket := f.createTicket(t, "TCK-1002", domain.TicketPriorityP0)

	f.clock.Advance(13 * time.Minute)
	result, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, result.AlertsCreated)
	assert.Equal(t, 0, result.BreachesDetected)

	stored := f.reload(t, ticket.ID)
	assert.Equal(t, domain.SLAStatusWarning, stored.Response.Status)
	assert.Equal(t, 2, stored.Response.RemainingMinutes)
	assert.Equal(t, domain.EscalationLevel1, stored.EscalationLevel)
	assert.Equal(t, 1, stored.EscalationCount)

	alerts := f.alerts(t, ticket.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertTypeWarning, alerts[0].Type)
	assert.Equal(t, 15.0, alerts[0].ThresholdPercentage)
	assert.Equal(t, 13.33, alerts[0].Metadata["remaining_percentage"])
	f.transport.AssertCalled(t, "PostMessage", mock.Anything, testWebhookURL, "#sla-alerts", mock.Anything)
}

func TestCycleIsIdempotentAtSameInstant(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	ticket := f.createTicket(t, "TCK-1003", domain.TicketPriorityP0)
	f.clock.Advance(16 * time.Minute)

	_, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)
	first := f.reload(t, ticket.ID)

	second, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, second.AlertsCreated)
	assert.Equal(t, 0, second.BreachesDetected)

	again := f.reload(t, ticket.ID)
	assert.Equal(t, first.EscalationLevel, again.EscalationLevel)
	assert.Equal(t, first.EscalationCount, again.EscalationCount)
	assert.Len(t, f.alerts(t, ticket.ID), 1)
}

func TestWarningThenCriticalThenBreachKeepsOneActiveAlertPerKey(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	ticket := f.createTicket(t, "TCK-1004", domain.TicketPriorityP1)

	for _, step := range []time.Duration{52 * time.Minute, time.Minute, 5 * time.Minute, 30 * time.Second, 2 * time.Minute} {
		f.clock.Advance(step)
		_, err := f.engine.RunEvaluationCycle(context.Background())
		require.NoError(t, err)
	}

	byKey := map[domain.AlertKey]int{}
	for _, a := range f.alerts(t, ticket.ID) {
		if a.Active {
			byKey[a.Key()]++
		}
	}
	for key, n := range byKey {
		assert.Equal(t, 1, n, "key %+v", key)
	}
	assert.Len(t, byKey, 3)
	assert.Equal(t, domain.EscalationLevel4, f.reload(t, ticket.ID).EscalationLevel)
}

func TestEscalationNeverDecreasesAfterPriorityChange(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	ticket := f.createTicket(t, "TCK-1005", domain.TicketPriorityP1)

	f.clock.Advance(58 * time.Minute)
	_, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)
	stored := f.reload(t, ticket.ID)
	require.Equal(t, domain.SLAStatusCritical, stored.Response.Status)
	require.Equal(t, domain.EscalationLevel3, stored.EscalationLevel)

	_, err = f.tickets.ChangePriority(context.Background(), "operator-1", ticket.ID, PriorityChangeInput{Priority: domain.TicketPriorityP3})
	require.NoError(t, err)

	_, err = f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)
	stored = f.reload(t, ticket.ID)
	assert.Equal(t, domain.SLAStatusCompliant, stored.Response.Status)
	assert.Equal(t, domain.EscalationLevel3, stored.EscalationLevel)
	for _, a := range f.alerts(t, ticket.ID) {
		assert.False(t, a.Active)
	}
}

func TestClosedTicketsLeaveTheCandidateSet(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "TCK-1006", domain.TicketPriorityP0)
	_, err := f.tickets.UpdateStatus(context.Background(), "operator-1", ticket.ID, domain.TicketStatusClosed, "duplicate")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	result, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, f.alerts(t, ticket.ID))
	f.transport.AssertNotCalled(t, "PostMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCommitFailureDiscardsTheWholeCycle(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	ticket := f.createTicket(t, "TCK-1007", domain.TicketPriorityP0)
	other := f.createTicket(t, "TCK-1008", domain.TicketPriorityP1)
	f.clock.Advance(16 * time.Minute)

	broken := &failingStore{MemoryStore: f.store, fail: true}
	_, err := f.engineOn(broken).RunEvaluationCycle(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodePersistence))

	for _, id := range []string{ticket.ID, other.ID} {
		stored := f.reload(t, id)
		assert.Equal(t, domain.SLAStatusCompliant, stored.Response.Status)
		assert.Equal(t, domain.EscalationLevel0, stored.EscalationLevel)
		assert.Empty(t, f.alerts(t, id))
	}
	assert.NotContains(t, f.eventTypes(), events.EventSLACycleCompleted)

	result, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.BreachesDetected)
}

func TestMalformedReloadLeavesEvaluationUnchanged(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	ticket := f.createTicket(t, "TCK-1009", domain.TicketPriorityP0)

	_, err := f.policies.ReloadFrom(context.Background(), []byte("alert_thresholds: [oops"), "test")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConfig))

	f.clock.Advance(13 * time.Minute)
	_, err = f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.SLAStatusWarning, f.reload(t, ticket.ID).Response.Status)
}

func TestNotificationFailureLeavesAlertUnsent(t *testing.T) {
	f := newFixture(t)
	f.transport.On("PostMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(apperrors.NewNotificationError("webhook returned 500", errors.New("status 500")))
	ticket := f.createTicket(t, "TCK-1010", domain.TicketPriorityP0)

	f.clock.Advance(16 * time.Minute)
	result, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AlertsCreated)

	alerts := f.alerts(t, ticket.ID)
	require.Len(t, alerts, 1)
	assert.False(t, alerts[0].Sent)
	assert.Nil(t, alerts[0].SentAt)
}

func TestCyclePublishesEventsAfterCommit(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	f.createTicket(t, "TCK-1011", domain.TicketPriorityP0)
	f.published = nil

	f.clock.Advance(16 * time.Minute)
	_, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []events.EventType{
		events.EventSLAAlertCreated,
		events.EventSLABreached,
		events.EventSLAEscalated,
		events.EventSLACycleCompleted,
	}, f.eventTypes())
}

func TestGetMetricsCountsStatusesAndLevels(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	f.createTicket(t, "TCK-1012", domain.TicketPriorityP0)
	f.createTicket(t, "TCK-1013", domain.TicketPriorityP1)

	f.clock.Advance(16 * time.Minute)
	_, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)

	metrics, err := f.engine.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.ResponseStatus["BREACHED"])
	assert.Equal(t, 1, metrics.ResponseStatus["COMPLIANT"])
	assert.Equal(t, 2, metrics.ResolutionStatus["COMPLIANT"])
	assert.Equal(t, 1, metrics.EscalationLevels["level_4"])
	assert.Equal(t, 1, metrics.EscalationLevels["level_0"])
	assert.Equal(t, domain.BreachCounts{Response: 1, Resolution: 0, Total: 1}, metrics.Breaches)
	assert.Equal(t, f.clock.Now(), metrics.GeneratedAt)
}

func TestDeriveEscalation(t *testing.T) {
	eval := func(s domain.SLAStatus) sla.Evaluation { return sla.Evaluation{Status: s} }
	cases := []struct {
		name       string
		response   domain.SLAStatus
		resolution domain.SLAStatus
		want       domain.EscalationLevel
	}{
		{"all compliant", domain.SLAStatusCompliant, domain.SLAStatusCompliant, domain.EscalationLevel0},
		{"response warning", domain.SLAStatusWarning, domain.SLAStatusCompliant, domain.EscalationLevel1},
		{"resolution warning", domain.SLAStatusCompliant, domain.SLAStatusWarning, domain.EscalationLevel0},
		{"resolution critical", domain.SLAStatusCompliant, domain.SLAStatusCritical, domain.EscalationLevel2},
		{"response critical", domain.SLAStatusCritical, domain.SLAStatusWarning, domain.EscalationLevel3},
		{"resolution breached", domain.SLAStatusWarning, domain.SLAStatusBreached, domain.EscalationLevel4},
		{"paused", domain.SLAStatusPaused, domain.SLAStatusPaused, domain.EscalationLevel0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := deriveEscalation([2]sla.Evaluation{eval(tc.response), eval(tc.resolution)})
			assert.Equal(t, tc.want, got)
		})
	}
}

// staleReadStore serves a ticket as it was read before a concurrent sweep committed.
type staleReadStore struct {
	*repository.MemoryStore
	stale *domain.Ticket
}

func (s *staleReadStore) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	if s.stale != nil && s.stale.ID == id {
		ticket := s.stale.Clone()
		return &ticket, nil
	}
	return s.MemoryStore.GetTicket(ctx, id)
}

func criticalDispatches(f *fixture) int {
	n := 0
	for _, call := range f.transport.Calls {
		if call.Method == "PostMessage" && call.Arguments.String(2) == "#sla-critical" {
			n++
		}
	}
	return n
}

func TestStatusUpdateRacingSweepKeepsBreachedStatus(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	ticket := f.createTicket(t, "TCK-1201", domain.TicketPriorityP0)
	preSweep := f.reload(t, ticket.ID)

	f.clock.Advance(16 * time.Minute)
	_, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)

	tickets := NewTicketService(TicketDependencies{
		Store:    &staleReadStore{MemoryStore: f.store, stale: preSweep},
		Policies: f.policies,
		Clock:    f.clock.Now,
	})
	_, err = tickets.UpdateStatus(context.Background(), "ops-1", ticket.ID, domain.TicketStatusInProgress, "picked up")
	require.NoError(t, err)

	stored := f.reload(t, ticket.ID)
	assert.Equal(t, domain.TicketStatusInProgress, stored.Status)
	assert.Equal(t, domain.SLAStatusBreached, stored.Response.Status)
	assert.Equal(t, domain.EscalationLevel4, stored.EscalationLevel)
	assert.Equal(t, 2, stored.EscalationCount)
}

func TestRolledBackBreachStatusDoesNotWedgeLaterCycles(t *testing.T) {
	f := newFixture(t)
	f.acceptNotifications()
	breached := f.createTicket(t, "TCK-1202", domain.TicketPriorityP0)
	other := f.createTicket(t, "TCK-1203", domain.TicketPriorityP1)
	preSweep := f.reload(t, breached.ID)

	f.clock.Advance(16 * time.Minute)
	_, err := f.engine.RunEvaluationCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, criticalDispatches(f))

	// A full-row write from before the sweep puts the stored status back to COMPLIANT.
	preSweep.Status = domain.TicketStatusInProgress
	require.NoError(t, f.store.Commit(context.Background(), repository.UnitOfWork{
		TicketUpdates: []*domain.Ticket{preSweep},
	}))
	require.Equal(t, domain.SLAStatusCompliant, f.reload(t, breached.ID).Response.Status)

	for i := 0; i < 3; i++ {
		f.clock.Advance(12 * time.Minute)
		_, err := f.engine.RunEvaluationCycle(context.Background())
		require.NoError(t, err)
	}

	stored := f.reload(t, breached.ID)
	assert.Equal(t, domain.SLAStatusBreached, stored.Response.Status)
	alerts := f.alerts(t, breached.ID)
	require.Len(t, alerts, 1)
	assert.Equal(t, domain.AlertTypeBreached, alerts[0].Type)
	assert.Equal(t, 1, criticalDispatches(f), "breach is not re-sent")

	assert.Equal(t, domain.SLAStatusWarning, f.reload(t, other.ID).Response.Status)
	otherAlerts := f.alerts(t, other.ID)
	require.Len(t, otherAlerts, 1)
	assert.Equal(t, domain.AlertTypeWarning, otherAlerts[0].Type)
}
