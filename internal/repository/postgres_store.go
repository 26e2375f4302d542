package repository

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/spec-kit/sla-service/internal/domain"
)

// PostgresStore implements Store on a pgx pool. Commit runs in one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool

	tickets *ticketRepository
	alerts  *alertRepository
	history *historyRepository
	policy  *policyHistoryRepository
}

// NewPostgresStore builds a store reading through pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool:    pool,
		tickets: newTicketRepository(pool),
		alerts:  newAlertRepository(pool),
		history: newHistoryRepository(pool),
		policy:  newPolicyHistoryRepository(pool),
	}
}

func (s *PostgresStore) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	return s.tickets.GetByID(ctx, id)
}

func (s *PostgresStore) GetTicketByExternalID(ctx context.Context, externalID string) (*domain.Ticket, error) {
	return s.tickets.GetByExternalID(ctx, externalID)
}

func (s *PostgresStore) ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	return s.tickets.List(ctx, filter)
}

func (s *PostgresStore) ListSweepCandidates(ctx context.Context) ([]domain.Ticket, error) {
	return s.tickets.ListSweepCandidates(ctx)
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]domain.Alert, error) {
	return s.alerts.List(ctx, filter)
}

func (s *PostgresStore) ActiveAlertKeys(ctx context.Context, ticketIDs []string) (map[domain.AlertKey]bool, error) {
	return s.alerts.ActiveKeys(ctx, ticketIDs)
}

func (s *PostgresStore) ListHistory(ctx context.Context, ticketID string) ([]domain.StatusHistory, error) {
	return s.history.ListByTicket(ctx, ticketID)
}

func (s *PostgresStore) SavePolicyVersion(ctx context.Context, v *domain.PolicyVersion) error {
	return s.policy.Create(ctx, v)
}

func (s *PostgresStore) ListPolicyVersions(ctx context.Context, limit int) ([]domain.PolicyVersion, error) {
	return s.policy.List(ctx, limit)
}

// Commit writes the unit of work inside a single transaction, rolling back on the first error.
func (s *PostgresStore) Commit(ctx context.Context, work UnitOfWork) error {
	if work.Empty() {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tickets := newTicketRepository(tx)
		alerts := newAlertRepository(tx)
		history := newHistoryRepository(tx)

		for _, t := range work.NewTickets {
			if err := tickets.Create(ctx, t); err != nil {
				return fmt.Errorf("insert ticket %s: %w", t.ExternalID, err)
			}
		}
		for _, t := range work.TicketUpdates {
			if err := tickets.Update(ctx, t); err != nil {
				return fmt.Errorf("update ticket %s: %w", t.ID, err)
			}
		}
		for _, u := range work.StatusUpdates {
			if err := tickets.UpdateStatus(ctx, u); err != nil {
				return fmt.Errorf("update status for ticket %s: %w", u.TicketID, err)
			}
		}
		for _, u := range work.SLAUpdates {
			if err := tickets.UpdateSLA(ctx, u); err != nil {
				return fmt.Errorf("update sla for ticket %s: %w", u.TicketID, err)
			}
		}
		for _, res := range work.AlertResolutions {
			if err := alerts.ResolveActive(ctx, res); err != nil {
				return fmt.Errorf("resolve alerts for ticket %s: %w", res.TicketID, err)
			}
		}
		for _, a := range work.NewAlerts {
			if err := alerts.Create(ctx, a); err != nil {
				return fmt.Errorf("insert alert for ticket %s: %w", a.TicketID, err)
			}
		}
		for _, h := range work.History {
			if err := history.Create(ctx, h); err != nil {
				return fmt.Errorf("insert history for ticket %s: %w", h.TicketID, err)
			}
		}
		return nil
	})
}

// SLACounts runs the three aggregates concurrently.
func (s *PostgresStore) SLACounts(ctx context.Context) (SLACounts, error) {
	var response, resolution, levels map[string]int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		response, err = s.tickets.Counts(gctx, "response_sla_status")
		return err
	})
	g.Go(func() (err error) {
		resolution, err = s.tickets.Counts(gctx, "resolution_sla_status")
		return err
	})
	g.Go(func() (err error) {
		levels, err = s.tickets.Counts(gctx, "escalation_level")
		return err
	})
	if err := g.Wait(); err != nil {
		return SLACounts{}, err
	}

	out := SLACounts{
		ResponseStatus:   make(map[domain.SLAStatus]int, len(response)),
		ResolutionStatus: make(map[domain.SLAStatus]int, len(resolution)),
		EscalationLevels: make(map[domain.EscalationLevel]int, len(levels)),
	}
	for k, v := range response {
		out.ResponseStatus[domain.SLAStatus(k)] = v
	}
	for k, v := range resolution {
		out.ResolutionStatus[domain.SLAStatus(k)] = v
	}
	for k, v := range levels {
		level, err := strconv.Atoi(k)
		if err != nil {
			return SLACounts{}, fmt.Errorf("parse escalation level %q: %w", k, err)
		}
		out.EscalationLevels[domain.EscalationLevel(level)] = v
	}
	return out, nil
}

// Ping checks pool connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
