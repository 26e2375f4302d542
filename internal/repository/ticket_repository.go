package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/spec-kit/sla-service/internal/domain"
)

const ticketColumns = `id, external_id, title, description, priority, customer_tier, status,
       assigned_to, department, tags, metadata, created_at, updated_at,
       response_sla_minutes, response_sla_deadline, response_sla_status, response_remaining_minutes,
       resolution_sla_minutes, resolution_sla_deadline, resolution_sla_status, resolution_remaining_minutes,
       escalation_level, escalation_count, last_escalation_at`

const uniqueViolation = "23505"

type ticketRepository struct {
	db DB
}

func newTicketRepository(db DB) *ticketRepository {
	return &ticketRepository{db: db}
}

func (r *ticketRepository) Create(ctx context.Context, t *domain.Ticket) error {
	const query = `
        INSERT INTO tickets (id, external_id, title, description, priority, customer_tier, status,
            assigned_to, department, tags, metadata, created_at, updated_at,
            response_sla_minutes, response_sla_deadline, response_sla_status, response_remaining_minutes,
            resolution_sla_minutes, resolution_sla_deadline, resolution_sla_status, resolution_remaining_minutes,
            escalation_level, escalation_count, last_escalation_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`
	_, err := r.db.Exec(ctx, query,
		t.ID, t.ExternalID, t.Title, t.Description, t.Priority, t.CustomerTier, t.Status,
		t.AssignedTo, t.Department, tagsOrEmpty(t.Tags), metadataOrEmpty(t.Metadata), t.CreatedAt, t.UpdatedAt,
		t.Response.TargetMinutes, t.Response.Deadline, t.Response.Status, t.Response.RemainingMinutes,
		t.Resolution.TargetMinutes, t.Resolution.Deadline, t.Resolution.Status, t.Resolution.RemainingMinutes,
		t.EscalationLevel, t.EscalationCount, t.LastEscalationAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateExternalID
	}
	return err
}

// Update writes every mutable column. Escalation level and count are clamped so they never decrease.
func (r *ticketRepository) Update(ctx context.Context, t *domain.Ticket) error {
	const query = `
        UPDATE tickets SET title=$1, description=$2, priority=$3, customer_tier=$4, status=$5,
            assigned_to=$6, department=$7, tags=$8, metadata=$9, updated_at=$10,
            response_sla_minutes=$11, response_sla_deadline=$12, response_sla_status=$13, response_remaining_minutes=$14,
            resolution_sla_minutes=$15, resolution_sla_deadline=$16, resolution_sla_status=$17, resolution_remaining_minutes=$18,
            escalation_level=GREATEST(escalation_level, $19), escalation_count=GREATEST(escalation_count, $20), last_escalation_at=$21
        WHERE id=$22`
	cmd, err := r.db.Exec(ctx, query,
		t.Title, t.Description, t.Priority, t.CustomerTier, t.Status,
		t.AssignedTo, t.Department, tagsOrEmpty(t.Tags), metadataOrEmpty(t.Metadata), t.UpdatedAt,
		t.Response.TargetMinutes, t.Response.Deadline, t.Response.Status, t.Response.RemainingMinutes,
		t.Resolution.TargetMinutes, t.Resolution.Deadline, t.Resolution.Status, t.Resolution.RemainingMinutes,
		t.EscalationLevel, t.EscalationCount, t.LastEscalationAt,
		t.ID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus changes the lifecycle status only.
func (r *ticketRepository) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	const query = `UPDATE tickets SET status=$1, updated_at=$2 WHERE id=$3`
	cmd, err := r.db.Exec(ctx, query, u.Status, u.UpdatedAt, u.TicketID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) UpdateSLA(ctx context.Context, u SLAUpdate) error {
	const query = `
        UPDATE tickets SET
            response_sla_status=$1, response_remaining_minutes=$2,
            resolution_sla_status=$3, resolution_remaining_minutes=$4,
            escalation_level=GREATEST(escalation_level, $5), escalation_count=$6, last_escalation_at=$7,
            updated_at=$8
        WHERE id=$9`
	cmd, err := r.db.Exec(ctx, query,
		u.Response.Status, u.Response.RemainingMinutes,
		u.Resolution.Status, u.Resolution.RemainingMinutes,
		u.EscalationLevel, u.EscalationCount, u.LastEscalationAt,
		u.UpdatedAt,
		u.TicketID,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ticketRepository) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id=$1`, id)
}

func (r *ticketRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.Ticket, error) {
	return r.fetchSingle(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE external_id=$1`, externalID)
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Ticket, error) {
	ticket, err := scanTicket(r.db.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ticket, nil
}

// ListSweepCandidates selects non-terminal tickets that have a response deadline.
func (r *ticketRepository) ListSweepCandidates(ctx context.Context) ([]domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets
        WHERE status NOT IN ('RESOLVED','CLOSED','CANCELLED') AND response_sla_deadline IS NOT NULL
        ORDER BY response_sla_deadline ASC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTickets(rows)
}

func (r *ticketRepository) List(ctx context.Context, filter TicketFilter) ([]domain.Ticket, int, error) {
	where, args := buildTicketWhere(filter)
	limit, offset := normalizeLimit(filter.Limit, filter.Offset)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM tickets WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT %s FROM tickets WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		ticketColumns, where, limit, offset)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	tickets, err := scanTickets(rows)
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

func (r *ticketRepository) Counts(ctx context.Context, column string) (map[string]int, error) {
	switch column {
	case "response_sla_status", "resolution_sla_status", "escalation_level":
	default:
		return nil, fmt.Errorf("unsupported count column %q", column)
	}
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s::text, COUNT(*) FROM tickets GROUP BY %s`, column, column))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func buildTicketWhere(filter TicketFilter) (string, []any) {
	clauses := []string{"1=1"}
	args := []any{}

	in := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			args = append(args, v)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ",")))
	}
	eq := func(column string, value any) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s=$%d", column, len(args)))
	}

	in("status", stringsOf(filter.Statuses))
	in("priority", stringsOf(filter.Priorities))
	in("customer_tier", stringsOf(filter.Tiers))
	if filter.EscalationLevel != nil {
		eq("escalation_level", int(*filter.EscalationLevel))
	}
	if filter.ResponseStatus != nil {
		eq("response_sla_status", string(*filter.ResponseStatus))
	}
	if filter.ResolutionStatus != nil {
		eq("resolution_sla_status", string(*filter.ResolutionStatus))
	}
	if filter.AssignedTo != nil {
		eq("assigned_to", *filter.AssignedTo)
	}
	if filter.CreatedFrom != nil {
		args = append(args, *filter.CreatedFrom)
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.CreatedTo != nil {
		args = append(args, *filter.CreatedTo)
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", len(args)))
	}
	if filter.SearchTerm != nil && strings.TrimSpace(*filter.SearchTerm) != "" {
		search := "%" + strings.ToLower(strings.TrimSpace(*filter.SearchTerm)) + "%"
		args = append(args, search)
		placeholder := fmt.Sprintf("$%d", len(args))
		clauses = append(clauses, fmt.Sprintf("(LOWER(title) LIKE %s OR LOWER(description) LIKE %s OR LOWER(external_id) LIKE %s)",
			placeholder, placeholder, placeholder))
	}
	return strings.Join(clauses, " AND "), args
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func scanTicket(row pgx.Row) (*domain.Ticket, error) {
	var t domain.Ticket
	if err := row.Scan(
		&t.ID, &t.ExternalID, &t.Title, &t.Description, &t.Priority, &t.CustomerTier, &t.Status,
		&t.AssignedTo, &t.Department, &t.Tags, &t.Metadata, &t.CreatedAt, &t.UpdatedAt,
		&t.Response.TargetMinutes, &t.Response.Deadline, &t.Response.Status, &t.Response.RemainingMinutes,
		&t.Resolution.TargetMinutes, &t.Resolution.Deadline, &t.Resolution.Status, &t.Resolution.RemainingMinutes,
		&t.EscalationLevel, &t.EscalationCount, &t.LastEscalationAt,
	); err != nil {
		return nil, err
	}
	return &t, nil
}

func scanTickets(rows pgx.Rows) ([]domain.Ticket, error) {
	var result []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func metadataOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
