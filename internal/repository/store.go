package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/sla-service/internal/domain"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateExternalID is returned when a ticket's external id is taken.
	ErrDuplicateExternalID = errors.New("external id already exists")
	// ErrActiveAlertExists is returned when an active alert with the same key exists.
	ErrActiveAlertExists = errors.New("active alert already exists")
)

// DB is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TicketFilter captures list parameters.
type TicketFilter struct {
	Statuses         []domain.TicketStatus
	Priorities       []domain.TicketPriority
	Tiers            []domain.CustomerTier
	EscalationLevel  *domain.EscalationLevel
	ResponseStatus   *domain.SLAStatus
	ResolutionStatus *domain.SLAStatus
	AssignedTo       *string
	SearchTerm       *string
	CreatedFrom      *time.Time
	CreatedTo        *time.Time
	Limit            int
	Offset           int
}

// AlertFilter captures alert list parameters.
type AlertFilter struct {
	TicketID   *string
	ActiveOnly bool
	Types      []domain.AlertType
	Limit      int
	Offset     int
}

// SLAUpdate carries the engine-owned columns of one ticket. Lifecycle
// columns (status, priority, assignee) are never written by it.
type SLAUpdate struct {
	TicketID         string
	Response         domain.SLATrack
	Resolution       domain.SLATrack
	EscalationLevel  domain.EscalationLevel
	EscalationCount  int
	LastEscalationAt *time.Time
	UpdatedAt        time.Time
}

// StatusUpdate is a lifecycle transition. It writes only status and
// updated_at so it cannot overwrite columns a concurrent sweep owns.
type StatusUpdate struct {
	TicketID  string
	Status    domain.TicketStatus
	UpdatedAt time.Time
}

// AlertResolution deactivates every active alert of a ticket.
type AlertResolution struct {
	TicketID   string
	ResolvedAt time.Time
}

// UnitOfWork is committed atomically: all of it or none of it.
type UnitOfWork struct {
	NewTickets       []*domain.Ticket
	TicketUpdates    []*domain.Ticket
	StatusUpdates    []StatusUpdate
	SLAUpdates       []SLAUpdate
	NewAlerts        []*domain.Alert
	AlertResolutions []AlertResolution
	History          []*domain.StatusHistory
}

// Empty reports whether there is nothing to write.
func (u UnitOfWork) Empty() bool {
	return len(u.NewTickets) == 0 && len(u.TicketUpdates) == 0 && len(u.StatusUpdates) == 0 &&
		len(u.SLAUpdates) == 0 &&
		len(u.NewAlerts) == 0 && len(u.AlertResolutions) == 0 && len(u.History) == 0
}

// SLACounts are the raw aggregates behind the metrics view.
type SLACounts struct {
	ResponseStatus   map[domain.SLAStatus]int
	ResolutionStatus map[domain.SLAStatus]int
	EscalationLevels map[domain.EscalationLevel]int
}

// Store is the persistence boundary of the SLA service.
type Store interface {
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
	GetTicketByExternalID(ctx context.Context, externalID string) (*domain.Ticket, error)
	ListTickets(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error)
	ListSweepCandidates(ctx context.Context) ([]domain.Ticket, error)

	ListAlerts(ctx context.Context, filter AlertFilter) ([]domain.Alert, error)
	ActiveAlertKeys(ctx context.Context, ticketIDs []string) (map[domain.AlertKey]bool, error)

	ListHistory(ctx context.Context, ticketID string) ([]domain.StatusHistory, error)

	Commit(ctx context.Context, work UnitOfWork) error
	SLACounts(ctx context.Context) (SLACounts, error)

	SavePolicyVersion(ctx context.Context, version *domain.PolicyVersion) error
	ListPolicyVersions(ctx context.Context, limit int) ([]domain.PolicyVersion, error)
}

func normalizeLimit(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
