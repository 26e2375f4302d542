package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/sla-service/internal/domain"
	"github.com/spec-kit/sla-service/internal/events"
	"github.com/spec-kit/sla-service/internal/repository"
	"github.com/spec-kit/sla-service/internal/sla"
	apperrors "github.com/spec-kit/sla-service/pkg/util/errorutil"
)

// MaxBatchSize bounds batch ticket creation.
const MaxBatchSize = 1000

// TicketService coordinates ticket lifecycle workflows. SLA targets and
// deadlines are derived from the current policy snapshot.
type TicketService struct {
	store      repository.Store
	policies   PolicySource
	dispatcher events.Dispatcher
	logger     *zap.Logger
	validate   *validator.Validate
	clock      func() time.Time
}

// TicketDependencies bundles collaborators for the ticket service.
type TicketDependencies struct {
	Store      repository.Store
	Policies   PolicySource
	Dispatcher events.Dispatcher
	Logger     *zap.Logger
	Clock      func() time.Time
}

// TicketCreateInput describes ticket creation payload.
type TicketCreateInput struct {
	ExternalID   string                `validate:"required,max=100"`
	Title        string                `validate:"required,max=500"`
	Description  string                `validate:"max=10000"`
	Priority     domain.TicketPriority `validate:"required,oneof=P0 P1 P2 P3"`
	CustomerTier domain.CustomerTier   `validate:"required,oneof=ENTERPRISE PREMIUM STANDARD BASIC"`
	AssignedTo   *string               `validate:"omitempty,max=100"`
	Department   *string               `validate:"omitempty,max=100"`
	Tags         []string              `validate:"max=20,dive,max=50"`
	Metadata     map[string]any
	CreatedAt    *time.Time
}

// PriorityChangeInput changes the SLA classification of a ticket.
type PriorityChangeInput struct {
	Priority     domain.TicketPriority `validate:"required,oneof=P0 P1 P2 P3"`
	CustomerTier *domain.CustomerTier  `validate:"omitempty,oneof=ENTERPRISE PREMIUM STANDARD BASIC"`
}

// TicketDetails is a ticket with its alerts and status history.
type TicketDetails struct {
	Ticket  *domain.Ticket
	Alerts  []domain.Alert
	History []domain.StatusHistory
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	s := &TicketService{
		store:      deps.Store,
		policies:   deps.Policies,
		dispatcher: deps.Dispatcher,
		logger:     deps.Logger,
		validate:   validator.New(),
		clock:      deps.Clock,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// CreateTicket validates input, stamps SLA targets and deadlines and stores
// the ticket with its initial history entry.
func (s *TicketService) CreateTicket(ctx context.Context, actor string, input TicketCreateInput) (*domain.Ticket, error) {
	if err := s.validateStruct(input); err != nil {
		return nil, err
	}
	now := s.clock()
	ticket := s.newTicket(input, now)
	work := repository.UnitOfWork{
		NewTickets: []*domain.Ticket{ticket},
		History:    []*domain.StatusHistory{createdHistory(ticket, actor)},
	}
	if err := s.commit(ctx, work); err != nil {
		return nil, err
	}
	s.publishCreated(ctx, actor, ticket)
	return ticket, nil
}

// CreateBatch creates up to MaxBatchSize tickets in one transaction.
func (s *TicketService) CreateBatch(ctx context.Context, actor string, inputs []TicketCreateInput) ([]*domain.Ticket, error) {
	if len(inputs) == 0 || len(inputs) > MaxBatchSize {
		return nil, apperrors.NewValidationError(
			fmt.Sprintf("batch must contain between 1 and %d tickets", MaxBatchSize),
			map[string]any{"count": len(inputs)},
		)
	}
	seen := make(map[string]int, len(inputs))
	var duplicates []string
	for i, input := range inputs {
		if err := s.validateStruct(input); err != nil {
			details := map[string]any{"index": i}
			if de := apperrors.ToDomainError(err); de.Details != nil {
				details["fields"] = de.Details
			}
			return nil, apperrors.NewValidationError("invalid ticket in batch", details)
		}
		if _, dup := seen[input.ExternalID]; dup {
			duplicates = append(duplicates, input.ExternalID)
		}
		seen[input.ExternalID] = i
	}
	if len(duplicates) > 0 {
		return nil, apperrors.NewValidationError("duplicate external ids in batch",
			map[string]any{"duplicates": duplicates})
	}

	now := s.clock()
	var work repository.UnitOfWork
	tickets := make([]*domain.Ticket, 0, len(inputs))
	for _, input := range inputs {
		ticket := s.newTicket(input, now)
		tickets = append(tickets, ticket)
		work.NewTickets = append(work.NewTickets, ticket)
		work.History = append(work.History, createdHistory(ticket, actor))
	}
	if err := s.commit(ctx, work); err != nil {
		return nil, err
	}
	for _, ticket := range tickets {
		s.publishCreated(ctx, actor, ticket)
	}
	s.logger.Info("ticket batch created", zap.Int("count", len(tickets)))
	return tickets, nil
}

// GetTicket returns a ticket with its alerts and history.
func (s *TicketService) GetTicket(ctx context.Context, id string) (*TicketDetails, error) {
	ticket, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	alerts, err := s.store.ListAlerts(ctx, repository.AlertFilter{TicketID: &ticket.ID, Limit: 500})
	if err != nil {
		return nil, err
	}
	history, err := s.store.ListHistory(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}
	return &TicketDetails{Ticket: ticket, Alerts: alerts, History: history}, nil
}

// ListTickets returns a filtered page of tickets plus the total match count.
func (s *TicketService) ListTickets(ctx context.Context, filter repository.TicketFilter) ([]domain.Ticket, int, error) {
	return s.store.ListTickets(ctx, filter)
}

// ListAlerts returns the alerts of one ticket.
func (s *TicketService) ListAlerts(ctx context.Context, id string, activeOnly bool) ([]domain.Alert, error) {
	ticket, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.store.ListAlerts(ctx, repository.AlertFilter{TicketID: &ticket.ID, ActiveOnly: activeOnly, Limit: 500})
}

// UpdateStatus moves a ticket through its lifecycle. Terminal statuses
// resolve every active alert of the ticket.
func (s *TicketService) UpdateStatus(ctx context.Context, actor, id string, newStatus domain.TicketStatus, reason string) (*domain.Ticket, error) {
	ticket, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status == newStatus {
		return ticket, nil
	}
	if !isValidTransition(ticket.Status, newStatus) {
		return nil, apperrors.NewConflict("invalid status transition", map[string]any{
			"from": ticket.Status,
			"to":   newStatus,
		})
	}

	now := s.clock()
	oldStatus := ticket.Status
	ticket.Status = newStatus
	ticket.UpdatedAt = now

	work := repository.UnitOfWork{
		StatusUpdates: []repository.StatusUpdate{{TicketID: ticket.ID, Status: newStatus, UpdatedAt: now}},
		History: []*domain.StatusHistory{{
			ID:         uuid.NewString(),
			TicketID:   ticket.ID,
			FromStatus: &oldStatus,
			ToStatus:   newStatus,
			ChangedBy:  changedBy(actor),
			Reason:     strings.TrimSpace(reason),
			ChangedAt:  now,
		}},
	}
	if newStatus.IsTerminal() {
		work.AlertResolutions = []repository.AlertResolution{{TicketID: ticket.ID, ResolvedAt: now}}
	}
	if err := s.commit(ctx, work); err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:      events.EventTicketStatusChanged,
		TicketID:  ticket.ID,
		Actor:     operatorActor(actor),
		Timestamp: now,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: oldStatus,
			NewStatus: newStatus,
			Reason:    strings.TrimSpace(reason),
		},
	})
	return ticket, nil
}

// ChangePriority reclassifies a ticket. Targets and deadlines restart from
// now under the current policy; escalation never goes down. Active alerts
// belong to the old deadlines and are resolved.
func (s *TicketService) ChangePriority(ctx context.Context, actor, id string, input PriorityChangeInput) (*domain.Ticket, error) {
	if err := s.validateStruct(input); err != nil {
		return nil, err
	}
	ticket, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, apperrors.NewConflict("ticket is no longer active", map[string]any{"status": ticket.Status})
	}
	oldPriority := ticket.Priority
	tier := ticket.CustomerTier
	if input.CustomerTier != nil {
		tier = *input.CustomerTier
	}
	if oldPriority == input.Priority && tier == ticket.CustomerTier {
		return ticket, nil
	}

	now := s.clock()
	ticket.Priority = input.Priority
	ticket.CustomerTier = tier
	ticket.UpdatedAt = now
	s.applyTargets(ticket, now)

	work := repository.UnitOfWork{
		TicketUpdates:    []*domain.Ticket{ticket},
		AlertResolutions: []repository.AlertResolution{{TicketID: ticket.ID, ResolvedAt: now}},
	}
	if err := s.commit(ctx, work); err != nil {
		return nil, err
	}

	publishEvent(ctx, s.dispatcher, events.Event{
		Type:      events.EventTicketPriorityChanged,
		TicketID:  ticket.ID,
		Actor:     operatorActor(actor),
		Timestamp: now,
		Payload: events.TicketPriorityChangedPayload{
			OldPriority: oldPriority,
			NewPriority: ticket.Priority,
		},
	})
	return ticket, nil
}

func (s *TicketService) newTicket(input TicketCreateInput, now time.Time) *domain.Ticket {
	created := now
	if input.CreatedAt != nil {
		created = input.CreatedAt.UTC()
	}
	ticket := &domain.Ticket{
		ID:           uuid.NewString(),
		ExternalID:   strings.TrimSpace(input.ExternalID),
		Title:        strings.TrimSpace(input.Title),
		Description:  strings.TrimSpace(input.Description),
		Priority:     input.Priority,
		CustomerTier: input.CustomerTier,
		Status:       domain.TicketStatusOpen,
		AssignedTo:   input.AssignedTo,
		Department:   input.Department,
		Tags:         input.Tags,
		Metadata:     input.Metadata,
		CreatedAt:    created,
		UpdatedAt:    now,
	}
	s.applyTargets(ticket, created)
	return ticket
}

// applyTargets stamps targets and deadlines for both dimensions from start.
func (s *TicketService) applyTargets(ticket *domain.Ticket, start time.Time) {
	snap := s.policies.Current()
	for _, dim := range domain.SLADimensions {
		target := snap.TargetMinutes(dim, ticket.Priority, ticket.CustomerTier)
		deadline := sla.Deadline(start, target)
		*ticket.SLA(dim) = domain.SLATrack{
			TargetMinutes:    &target,
			Deadline:         &deadline,
			Status:           domain.SLAStatusCompliant,
			RemainingMinutes: target,
		}
	}
}

func (s *TicketService) load(ctx context.Context, id string) (*domain.Ticket, error) {
	var (
		ticket *domain.Ticket
		err    error
	)
	if _, parseErr := uuid.Parse(id); parseErr == nil {
		ticket, err = s.store.GetTicket(ctx, id)
	} else {
		ticket, err = s.store.GetTicketByExternalID(ctx, id)
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"id": id})
	}
	return ticket, err
}

func (s *TicketService) commit(ctx context.Context, work repository.UnitOfWork) error {
	err := s.store.Commit(ctx, work)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrDuplicateExternalID):
		return apperrors.NewConflict("ticket with this external id already exists", nil)
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound("ticket", nil)
	default:
		return apperrors.NewPersistenceError("save ticket", err)
	}
}

func (s *TicketService) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperrors.NewValidationError(err.Error(), nil)
	}
	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fe.Field()] = fe.Tag()
	}
	return apperrors.NewValidationError("invalid ticket input", details)
}

func (s *TicketService) publishCreated(ctx context.Context, actor string, ticket *domain.Ticket) {
	publishEvent(ctx, s.dispatcher, events.Event{
		Type:      events.EventTicketCreated,
		TicketID:  ticket.ID,
		Actor:     operatorActor(actor),
		Timestamp: ticket.UpdatedAt,
		Payload: events.TicketCreatedPayload{
			ExternalID:   ticket.ExternalID,
			Priority:     ticket.Priority,
			CustomerTier: ticket.CustomerTier,
			Title:        ticket.Title,
		},
	})
}

func createdHistory(ticket *domain.Ticket, actor string) *domain.StatusHistory {
	return &domain.StatusHistory{
		ID:        uuid.NewString(),
		TicketID:  ticket.ID,
		ToStatus:  ticket.Status,
		ChangedBy: changedBy(actor),
		Reason:    "Ticket created",
		ChangedAt: ticket.UpdatedAt,
	}
}

func changedBy(actor string) string {
	if actor == "" {
		return events.ActorSystem
	}
	return actor
}

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen: {
		domain.TicketStatusInProgress, domain.TicketStatusPendingCustomer, domain.TicketStatusPendingInternal,
		domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusCancelled,
	},
	domain.TicketStatusInProgress: {
		domain.TicketStatusPendingCustomer, domain.TicketStatusPendingInternal,
		domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusCancelled,
	},
	domain.TicketStatusPendingCustomer: {
		domain.TicketStatusInProgress, domain.TicketStatusPendingInternal,
		domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusCancelled,
	},
	domain.TicketStatusPendingInternal: {
		domain.TicketStatusInProgress, domain.TicketStatusPendingCustomer,
		domain.TicketStatusResolved, domain.TicketStatusClosed, domain.TicketStatusCancelled,
	},
	domain.TicketStatusResolved: {domain.TicketStatusClosed, domain.TicketStatusInProgress},
}

func isValidTransition(current, next domain.TicketStatus) bool {
	for _, allowed := range allowedTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}
