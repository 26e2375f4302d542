package repository

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/spec-kit/sla-service/internal/domain"
)

// MemoryStore implements Store in process memory. It backs development runs
// without a database and the service tests. Commit is all-or-nothing.
type MemoryStore struct {
	mu       sync.RWMutex
	tickets  map[string]domain.Ticket
	external map[string]string
	alerts   []domain.Alert
	history  map[string][]domain.StatusHistory
	policies []domain.PolicyVersion
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:  make(map[string]domain.Ticket),
		external: make(map[string]string),
		history:  make(map[string][]domain.StatusHistory),
	}
}

func (s *MemoryStore) GetTicket(_ context.Context, id string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := t.Clone()
	return &out, nil
}

func (s *MemoryStore) GetTicketByExternalID(ctx context.Context, externalID string) (*domain.Ticket, error) {
	s.mu.RLock()
	id, ok := s.external[externalID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s.GetTicket(ctx, id)
}

func (s *MemoryStore) ListTickets(_ context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.Ticket
	for _, t := range s.tickets {
		if matchesTicket(t, filter) {
			matched = append(matched, t.Clone())
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	limit, offset := normalizeLimit(filter.Limit, filter.Offset)
	if offset >= total {
		return []domain.Ticket{}, total, nil
	}
	end := min(offset+limit, total)
	return matched[offset:end], total, nil
}

func (s *MemoryStore) ListSweepCandidates(_ context.Context) ([]domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Ticket
	for _, t := range s.tickets {
		if t.IsSweepCandidate() {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Response.Deadline.Before(*out[j].Response.Deadline)
	})
	return out, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, filter AlertFilter) ([]domain.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Alert
	for i := len(s.alerts) - 1; i >= 0; i-- {
		a := s.alerts[i]
		if filter.TicketID != nil && a.TicketID != *filter.TicketID {
			continue
		}
		if filter.ActiveOnly && !a.Active {
			continue
		}
		if len(filter.Types) > 0 && !slices.Contains(filter.Types, a.Type) {
			continue
		}
		out = append(out, a)
	}
	limit, offset := normalizeLimit(filter.Limit, filter.Offset)
	if offset >= len(out) {
		return []domain.Alert{}, nil
	}
	return out[offset:min(offset+limit, len(out))], nil
}

func (s *MemoryStore) ActiveAlertKeys(_ context.Context, ticketIDs []string) (map[domain.AlertKey]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[string]struct{}, len(ticketIDs))
	for _, id := range ticketIDs {
		wanted[id] = struct{}{}
	}
	keys := make(map[domain.AlertKey]bool)
	for _, a := range s.alerts {
		if _, ok := wanted[a.TicketID]; ok && a.Active {
			keys[a.Key()] = true
		}
	}
	return keys, nil
}

func (s *MemoryStore) ListHistory(_ context.Context, ticketID string) ([]domain.StatusHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.history[ticketID]), nil
}

func (s *MemoryStore) SavePolicyVersion(_ context.Context, v *domain.PolicyVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.policies {
		if existing.Version == v.Version && existing.Checksum == v.Checksum {
			return nil
		}
	}
	s.policies = append(s.policies, *v)
	return nil
}

func (s *MemoryStore) ListPolicyVersions(_ context.Context, limit int) ([]domain.PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	limit, _ = normalizeLimit(limit, 0)
	out := make([]domain.PolicyVersion, 0, min(limit, len(s.policies)))
	for i := len(s.policies) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.policies[i])
	}
	return out, nil
}

// Commit stages every mutation on copies and publishes them only when all succeed.
func (s *MemoryStore) Commit(ctx context.Context, work UnitOfWork) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tickets := maps.Clone(s.tickets)
	external := maps.Clone(s.external)
	alerts := slices.Clone(s.alerts)
	history := maps.Clone(s.history)

	for _, t := range work.NewTickets {
		if _, taken := external[t.ExternalID]; taken {
			return fmt.Errorf("insert ticket %s: %w", t.ExternalID, ErrDuplicateExternalID)
		}
		if _, taken := tickets[t.ID]; taken {
			return fmt.Errorf("insert ticket %s: duplicate id", t.ID)
		}
		tickets[t.ID] = t.Clone()
		external[t.ExternalID] = t.ID
	}
	for _, t := range work.TicketUpdates {
		current, ok := tickets[t.ID]
		if !ok {
			return fmt.Errorf("update ticket %s: %w", t.ID, ErrNotFound)
		}
		next := t.Clone()
		next.ExternalID = current.ExternalID
		next.EscalationLevel = max(current.EscalationLevel, next.EscalationLevel)
		next.EscalationCount = max(current.EscalationCount, next.EscalationCount)
		tickets[t.ID] = next
	}
	for _, u := range work.StatusUpdates {
		current, ok := tickets[u.TicketID]
		if !ok {
			return fmt.Errorf("update status for ticket %s: %w", u.TicketID, ErrNotFound)
		}
		next := current.Clone()
		next.Status = u.Status
		next.UpdatedAt = u.UpdatedAt
		tickets[u.TicketID] = next
	}
	for _, u := range work.SLAUpdates {
		current, ok := tickets[u.TicketID]
		if !ok {
			return fmt.Errorf("update sla for ticket %s: %w", u.TicketID, ErrNotFound)
		}
		next := current.Clone()
		next.Response.Status = u.Response.Status
		next.Response.RemainingMinutes = u.Response.RemainingMinutes
		next.Resolution.Status = u.Resolution.Status
		next.Resolution.RemainingMinutes = u.Resolution.RemainingMinutes
		next.EscalationLevel = max(current.EscalationLevel, u.EscalationLevel)
		next.EscalationCount = u.EscalationCount
		next.LastEscalationAt = u.LastEscalationAt
		next.UpdatedAt = u.UpdatedAt
		tickets[u.TicketID] = next
	}
	for _, res := range work.AlertResolutions {
		for i, a := range alerts {
			if a.TicketID == res.TicketID && a.Active {
				resolvedAt := res.ResolvedAt
				a.Active = false
				a.ResolvedAt = &resolvedAt
				alerts[i] = a
			}
		}
	}
	for _, a := range work.NewAlerts {
		if _, ok := tickets[a.TicketID]; !ok {
			return fmt.Errorf("insert alert for ticket %s: %w", a.TicketID, ErrNotFound)
		}
		if a.Active && slices.ContainsFunc(alerts, func(existing domain.Alert) bool {
			return existing.Active && existing.Key() == a.Key()
		}) {
			return fmt.Errorf("insert alert for ticket %s: %w", a.TicketID, ErrActiveAlertExists)
		}
		alerts = append(alerts, *a)
	}
	for _, h := range work.History {
		if _, ok := tickets[h.TicketID]; !ok {
			return fmt.Errorf("insert history for ticket %s: %w", h.TicketID, ErrNotFound)
		}
		history[h.TicketID] = append(slices.Clone(history[h.TicketID]), *h)
	}

	s.tickets = tickets
	s.external = external
	s.alerts = alerts
	s.history = history
	return nil
}

func (s *MemoryStore) SLACounts(_ context.Context) (SLACounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := SLACounts{
		ResponseStatus:   make(map[domain.SLAStatus]int),
		ResolutionStatus: make(map[domain.SLAStatus]int),
		EscalationLevels: make(map[domain.EscalationLevel]int),
	}
	for _, t := range s.tickets {
		out.ResponseStatus[t.Response.Status]++
		out.ResolutionStatus[t.Resolution.Status]++
		out.EscalationLevels[t.EscalationLevel]++
	}
	return out, nil
}

func matchesTicket(t domain.Ticket, f TicketFilter) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, t.Status) {
		return false
	}
	if len(f.Priorities) > 0 && !slices.Contains(f.Priorities, t.Priority) {
		return false
	}
	if len(f.Tiers) > 0 && !slices.Contains(f.Tiers, t.CustomerTier) {
		return false
	}
	if f.EscalationLevel != nil && t.EscalationLevel != *f.EscalationLevel {
		return false
	}
	if f.ResponseStatus != nil && t.Response.Status != *f.ResponseStatus {
		return false
	}
	if f.ResolutionStatus != nil && t.Resolution.Status != *f.ResolutionStatus {
		return false
	}
	if f.AssignedTo != nil && (t.AssignedTo == nil || *t.AssignedTo != *f.AssignedTo) {
		return false
	}
	if f.CreatedFrom != nil && t.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedTo != nil && t.CreatedAt.After(*f.CreatedTo) {
		return false
	}
	if f.SearchTerm != nil {
		term := strings.ToLower(strings.TrimSpace(*f.SearchTerm))
		if term != "" &&
			!strings.Contains(strings.ToLower(t.Title), term) &&
			!strings.Contains(strings.ToLower(t.Description), term) &&
			!strings.Contains(strings.ToLower(t.ExternalID), term) {
			return false
		}
	}
	return true
}
