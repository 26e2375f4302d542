package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/sla-service/internal/domain"
	"github.com/spec-kit/sla-service/internal/events"
	"github.com/spec-kit/sla-service/internal/observability"
	"github.com/spec-kit/sla-service/internal/policy"
	"github.com/spec-kit/sla-service/internal/repository"
	"github.com/spec-kit/sla-service/internal/sla"
	apperrors "github.com/spec-kit/sla-service/pkg/util/errorutil"
)

// PolicySource hands out the current policy snapshot.
type PolicySource interface {
	Current() *policy.Snapshot
}

// CycleResult summarizes one evaluation cycle.
type CycleResult struct {
	Processed        int     `json:"processed"`
	AlertsCreated    int     `json:"alerts_created"`
	BreachesDetected int     `json:"breaches_detected"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// escalationTable maps (dimension, fresh status) to the level the ticket
// must be at. Missing entries mean level 0.
var escalationTable = map[domain.SLADimension]map[domain.SLAStatus]domain.EscalationLevel{
	domain.SLADimensionResponse: {
		domain.SLAStatusBreached: domain.EscalationLevel4,
		domain.SLAStatusCritical: domain.EscalationLevel3,
		domain.SLAStatusWarning:  domain.EscalationLevel1,
	},
	domain.SLADimensionResolution: {
		domain.SLAStatusBreached: domain.EscalationLevel4,
		domain.SLAStatusCritical: domain.EscalationLevel2,
	},
}

// SLAEngineDependencies bundles collaborators for the engine.
type SLAEngineDependencies struct {
	Store      repository.Store
	Policies   PolicySource
	Escalation *EscalationService
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Workers    int
	Clock      func() time.Time
}

// SLAEngine evaluates every active ticket against the SLA policy.
type SLAEngine struct {
	store      repository.Store
	policies   PolicySource
	escalation *EscalationService
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	workers    int
	clock      func() time.Time
}

// NewSLAEngine constructs the engine.
func NewSLAEngine(deps SLAEngineDependencies) *SLAEngine {
	e := &SLAEngine{
		store:      deps.Store,
		policies:   deps.Policies,
		escalation: deps.Escalation,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		workers:    deps.Workers,
		clock:      deps.Clock,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.escalation == nil {
		e.escalation = NewEscalationService(nil, e.logger, e.metrics)
	}
	if e.workers <= 0 {
		e.workers = 1
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	return e
}

// ticketOutcome is what one ticket contributed to a cycle.
type ticketOutcome struct {
	ticket   domain.Ticket
	oldLevel domain.EscalationLevel
	alerts   []*domain.Alert
	breaches []domain.SLADimension
	changed  bool
}

// RunEvaluationCycle sweeps all candidates once and commits the result in a
// single unit of work. A cycle is never cancelled once started; any store
// failure discards every mutation of the cycle.
func (e *SLAEngine) RunEvaluationCycle(ctx context.Context) (CycleResult, error) {
	ctx = context.WithoutCancel(ctx)
	began := time.Now()
	now := e.clock()
	snap := e.policies.Current()

	candidates, err := e.store.ListSweepCandidates(ctx)
	if err != nil {
		return e.failCycle(began, apperrors.NewPersistenceError("load sweep candidates", err))
	}
	ids := make([]string, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID
	}
	active, err := e.store.ActiveAlertKeys(ctx, ids)
	if err != nil {
		return e.failCycle(began, apperrors.NewPersistenceError("load active alerts", err))
	}

	evaluations := e.recompute(ctx, candidates, now, snap)

	var (
		work     repository.UnitOfWork
		outcomes []ticketOutcome
		result   = CycleResult{Processed: len(candidates)}
	)
	for i := range candidates {
		out := e.evaluateTicket(ctx, snap, candidates[i], evaluations[i], active, now)
		result.AlertsCreated += len(out.alerts)
		result.BreachesDetected += len(out.breaches)
		work.NewAlerts = append(work.NewAlerts, out.alerts...)
		if out.changed {
			work.SLAUpdates = append(work.SLAUpdates, slaUpdateOf(&out.ticket, now))
		}
		outcomes = append(outcomes, out)
	}

	if !work.Empty() {
		if err := e.store.Commit(ctx, work); err != nil {
			return e.failCycle(began, apperrors.NewPersistenceError("commit evaluation cycle", err))
		}
	}

	result.ElapsedSeconds = time.Since(began).Seconds()
	e.metrics.CycleCompleted(true, time.Since(began), result.Processed)
	e.announce(ctx, snap, outcomes, result, now)
	e.logger.Info("sla evaluation cycle completed",
		zap.Int("processed", result.Processed),
		zap.Int("alerts_created", result.AlertsCreated),
		zap.Int("breaches_detected", result.BreachesDetected),
		zap.Float64("elapsed_seconds", result.ElapsedSeconds),
		zap.Int("policy_version", snap.Version()),
	)
	return result, nil
}

func (e *SLAEngine) failCycle(began time.Time, err error) (CycleResult, error) {
	e.metrics.CycleCompleted(false, time.Since(began), 0)
	e.logger.Error("sla evaluation cycle failed", zap.Error(err))
	return CycleResult{}, err
}

// recompute evaluates both dimensions of every candidate. Evaluation is pure,
// so candidates are split across the worker pool.
func (e *SLAEngine) recompute(ctx context.Context, candidates []domain.Ticket, now time.Time, snap *policy.Snapshot) [][2]sla.Evaluation {
	out := make([][2]sla.Evaluation, len(candidates))
	warn, crit := snap.WarningPercentage(), snap.CriticalPercentage()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i := range candidates {
		i := i
		g.Go(func() error {
			t := &candidates[i]
			out[i] = [2]sla.Evaluation{
				sla.Evaluate(t.Response, now, warn, crit),
				sla.Evaluate(t.Resolution, now, warn, crit),
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (e *SLAEngine) evaluateTicket(ctx context.Context, snap *policy.Snapshot, ticket domain.Ticket, evals [2]sla.Evaluation, active map[domain.AlertKey]bool, now time.Time) ticketOutcome {
	out := ticketOutcome{ticket: ticket, oldLevel: ticket.EscalationLevel}
	t := &out.ticket

	stored := [2]domain.SLAStatus{t.Response.Status, t.Resolution.Status}
	for i, dim := range domain.SLADimensions {
		track := t.SLA(dim)
		if track.Status != evals[i].Status || track.RemainingMinutes != evals[i].RemainingMinutes {
			out.changed = true
		}
		track.Status = evals[i].Status
		track.RemainingMinutes = evals[i].RemainingMinutes
	}

	if e.escalation.Raise(t, deriveEscalation(evals), now) {
		out.changed = true
	}

	for i, dim := range domain.SLADimensions {
		track := t.SLA(dim)
		if track.Deadline == nil {
			continue
		}
		fresh := evals[i].Status

		switch {
		case fresh == domain.SLAStatusBreached && stored[i] != domain.SLAStatusBreached:
			key := domain.AlertKey{TicketID: t.ID, Dimension: dim, Type: domain.AlertTypeBreached}
			if active[key] {
				// Already alerted; only the stored status is repaired.
				out.changed = true
				continue
			}
			active[key] = true
			e.escalation.OnBreach(t, dim, now)
			alert := newAlert(snap, t, dim, domain.AlertTypeBreached, evals[i], now)
			alert.Metadata["breach_timestamp"] = now.UTC().Format(time.RFC3339)
			e.escalation.OnAlert(ctx, snap, t, alert, now)
			out.alerts = append(out.alerts, alert)
			out.breaches = append(out.breaches, dim)
			out.changed = true
		case fresh == domain.SLAStatusCritical && stored[i] != domain.SLAStatusCritical:
			out.alerts = e.thresholdAlert(ctx, snap, t, dim, domain.AlertTypeCritical, evals[i], active, now, out.alerts)
		case fresh == domain.SLAStatusWarning && stored[i] == domain.SLAStatusCompliant:
			out.alerts = e.thresholdAlert(ctx, snap, t, dim, domain.AlertTypeWarning, evals[i], active, now, out.alerts)
		}
	}
	if t.EscalationLevel != out.oldLevel {
		out.changed = true
	}
	return out
}

func (e *SLAEngine) thresholdAlert(ctx context.Context, snap *policy.Snapshot, t *domain.Ticket, dim domain.SLADimension, alertType domain.AlertType, eval sla.Evaluation, active map[domain.AlertKey]bool, now time.Time, alerts []*domain.Alert) []*domain.Alert {
	key := domain.AlertKey{TicketID: t.ID, Dimension: dim, Type: alertType}
	if active[key] {
		return alerts
	}
	alert := newAlert(snap, t, dim, alertType, eval, now)
	e.escalation.OnAlert(ctx, snap, t, alert, now)
	active[key] = true
	return append(alerts, alert)
}

func deriveEscalation(evals [2]sla.Evaluation) domain.EscalationLevel {
	var level domain.EscalationLevel
	for i, dim := range domain.SLADimensions {
		level = max(level, escalationTable[dim][evals[i].Status])
	}
	return level
}

// newAlert records the configured threshold that fired (0 for breaches); the
// observed remaining percentage goes into metadata.
func newAlert(snap *policy.Snapshot, t *domain.Ticket, dim domain.SLADimension, alertType domain.AlertType, eval sla.Evaluation, now time.Time) *domain.Alert {
	track := t.SLA(dim)
	var threshold float64
	switch alertType {
	case domain.AlertTypeWarning:
		threshold = snap.WarningPercentage()
	case domain.AlertTypeCritical:
		threshold = snap.CriticalPercentage()
	}
	alert := &domain.Alert{
		ID:                  uuid.NewString(),
		TicketID:            t.ID,
		Type:                alertType,
		Dimension:           dim,
		ThresholdPercentage: threshold,
		RemainingMinutes:    eval.RemainingMinutes,
		Active:              true,
		CreatedAt:           now,
		Metadata: map[string]any{
			"ticket_external_id":   t.ExternalID,
			"priority":             string(t.Priority),
			"customer_tier":        string(t.CustomerTier),
			"escalation_level":     int(t.EscalationLevel),
			"remaining_percentage": math.Round(eval.Percentage*100) / 100,
		},
	}
	if track.Deadline != nil {
		deadline := *track.Deadline
		alert.Deadline = &deadline
	}
	return alert
}

func slaUpdateOf(t *domain.Ticket, now time.Time) repository.SLAUpdate {
	return repository.SLAUpdate{
		TicketID:         t.ID,
		Response:         t.Response,
		Resolution:       t.Resolution,
		EscalationLevel:  t.EscalationLevel,
		EscalationCount:  t.EscalationCount,
		LastEscalationAt: t.LastEscalationAt,
		UpdatedAt:        now,
	}
}

// announce records metrics and publishes events for a committed cycle.
func (e *SLAEngine) announce(ctx context.Context, snap *policy.Snapshot, outcomes []ticketOutcome, result CycleResult, now time.Time) {
	for _, out := range outcomes {
		t := out.ticket
		for _, alert := range out.alerts {
			e.metrics.AlertCreated(string(alert.Type), string(alert.Dimension))
			publishEvent(ctx, e.dispatcher, events.Event{
				Type:      events.EventSLAAlertCreated,
				TicketID:  t.ID,
				Actor:     events.SystemActor,
				Timestamp: now,
				Payload: events.SLAAlertPayload{
					AlertID:          alert.ID,
					ExternalID:       t.ExternalID,
					AlertType:        alert.Type,
					Dimension:        alert.Dimension,
					RemainingMinutes: alert.RemainingMinutes,
					Percentage:       alert.ThresholdPercentage,
					Sent:             alert.Sent,
				},
			})
		}
		for _, dim := range out.breaches {
			e.metrics.BreachDetected(string(dim))
			publishEvent(ctx, e.dispatcher, events.Event{
				Type:      events.EventSLABreached,
				TicketID:  t.ID,
				Actor:     events.SystemActor,
				Timestamp: now,
				Payload: events.SLABreachedPayload{
					ExternalID: t.ExternalID,
					Dimension:  dim,
					Deadline:   t.SLA(dim).Deadline,
				},
			})
		}
		if t.EscalationLevel > out.oldLevel {
			publishEvent(ctx, e.dispatcher, events.Event{
				Type:      events.EventSLAEscalated,
				TicketID:  t.ID,
				Actor:     events.SystemActor,
				Timestamp: now,
				Payload: events.SLAEscalatedPayload{
					ExternalID: t.ExternalID,
					OldLevel:   out.oldLevel,
					NewLevel:   t.EscalationLevel,
					Label:      snap.EscalationLabel(t.EscalationLevel),
				},
			})
		}
	}
	publishEvent(ctx, e.dispatcher, events.Event{
		Type:      events.EventSLACycleCompleted,
		Actor:     events.SystemActor,
		Timestamp: now,
		Payload: events.SLACycleCompletedPayload{
			Processed:        result.Processed,
			AlertsCreated:    result.AlertsCreated,
			BreachesDetected: result.BreachesDetected,
			ElapsedSeconds:   result.ElapsedSeconds,
			PolicyVersion:    snap.Version(),
		},
	})
}

// GetMetrics aggregates SLA status and escalation counts over all tickets.
func (e *SLAEngine) GetMetrics(ctx context.Context) (*domain.SLAMetrics, error) {
	counts, err := e.store.SLACounts(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceError("load sla metrics", err)
	}

	statuses := []domain.SLAStatus{
		domain.SLAStatusCompliant,
		domain.SLAStatusWarning,
		domain.SLAStatusCritical,
		domain.SLAStatusBreached,
		domain.SLAStatusPaused,
	}
	metrics := &domain.SLAMetrics{
		ResponseStatus:   make(map[string]int, len(statuses)),
		ResolutionStatus: make(map[string]int, len(statuses)),
		EscalationLevels: make(map[string]int, int(domain.MaxEscalationLevel)+1),
		GeneratedAt:      e.clock(),
	}
	for _, status := range statuses {
		metrics.ResponseStatus[string(status)] = counts.ResponseStatus[status]
		metrics.ResolutionStatus[string(status)] = counts.ResolutionStatus[status]
	}
	for level := domain.EscalationLevel0; level <= domain.MaxEscalationLevel; level++ {
		metrics.EscalationLevels[fmt.Sprintf("level_%d", level)] = counts.EscalationLevels[level]
	}
	metrics.Breaches = domain.BreachCounts{
		Response:   counts.ResponseStatus[domain.SLAStatusBreached],
		Resolution: counts.ResolutionStatus[domain.SLAStatusBreached],
	}
	metrics.Breaches.Total = metrics.Breaches.Response + metrics.Breaches.Resolution
	return metrics, nil
}
