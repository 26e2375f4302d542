package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-service/internal/domain"
	"github.com/spec-kit/sla-service/internal/events"
	"github.com/spec-kit/sla-service/internal/notify"
	"github.com/spec-kit/sla-service/internal/policy"
	"github.com/spec-kit/sla-service/internal/repository"
)

const testWebhookURL = "https://hooks.example.com/services/T000"

const testPolicy = `
alert_thresholds:
  warning: 0.15
  critical: 0.05
sla_targets:
  ENTERPRISE:
    P0: { response: 15, resolution: 240 }
    P1: { response: 60, resolution: 480 }
escalation_levels:
  0: "No escalation"
  1: "Team lead notified"
  3: "Director notified"
  4: "Executive escalation"
webhooks:
  slack:
    url: "https://hooks.example.com/services/T000"
    channels:
      general: "#sla-alerts"
      critical: "#sla-critical"
`

var t0 = time.Date(2025, 3, 12, 10, 0, 0, 0, time.UTC)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) PostMessage(ctx context.Context, target, channel string, msg notify.Message) error {
	args := m.Called(ctx, target, channel, msg)
	return args.Error(0)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// failingStore fails every commit while fail is set.
type failingStore struct {
	*repository.MemoryStore
	fail bool
}

func (s *failingStore) Commit(ctx context.Context, work repository.UnitOfWork) error {
	if s.fail {
		return errors.New("connection reset")
	}
	return s.MemoryStore.Commit(ctx, work)
}

type fixture struct {
	store      *repository.MemoryStore
	policies   *policy.Store
	transport  *mockTransport
	clock      *testClock
	dispatcher events.Dispatcher
	published  []events.Event
	tickets    *TicketService
	engine     *SLAEngine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:      repository.NewMemoryStore(),
		policies:   policy.NewStore("", zap.NewNop(), nil),
		transport:  &mockTransport{},
		clock:      &testClock{now: t0},
		dispatcher: events.NewInMemoryDispatcher(zap.NewNop()),
	}
	_, err := f.policies.ReloadFrom(context.Background(), []byte(testPolicy), "test")
	require.NoError(t, err)

	for _, et := range events.AllEventTypes {
		f.dispatcher.Subscribe(et, func(_ context.Context, e events.Event) error {
			f.published = append(f.published, e)
			return nil
		})
	}
	f.tickets = NewTicketService(TicketDependencies{
		Store:      f.store,
		Policies:   f.policies,
		Dispatcher: f.dispatcher,
		Clock:      f.clock.Now,
	})
	f.engine = f.engineOn(f.store)
	return f
}

func (f *fixture) engineOn(store repository.Store) *SLAEngine {
	return NewSLAEngine(SLAEngineDependencies{
		Store:      store,
		Policies:   f.policies,
		Escalation: NewEscalationService(f.transport, zap.NewNop(), nil),
		Dispatcher: f.dispatcher,
		Workers:    4,
		Clock:      f.clock.Now,
	})
}

func (f *fixture) acceptNotifications() {
	f.transport.On("PostMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func (f *fixture) createTicket(t *testing.T, externalID string, priority domain.TicketPriority) *domain.Ticket {
	t.Helper()
	ticket, err := f.tickets.CreateTicket(context.Background(), "", TicketCreateInput{
		ExternalID:   externalID,
		Title:        "Checkout page returns 500",
		Priority:     priority,
		CustomerTier: domain.CustomerTierEnterprise,
	})
	require.NoError(t, err)
	return ticket
}

func (f *fixture) reload(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := f.store.GetTicket(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func (f *fixture) alerts(t *testing.T, ticketID string) []domain.Alert {
	t.Helper()
	alerts, err := f.store.ListAlerts(context.Background(), repository.AlertFilter{TicketID: &ticketID})
	require.NoError(t, err)
	return alerts
}

func (f *fixture) eventTypes() []events.EventType {
	out := make([]events.EventType, 0, len(f.published))
	for _, e := range f.published {
		out = append(out, e.Type)
	}
	return out
}
