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

const alertColumns = `id, ticket_id, alert_type, sla_dimension, threshold_percentage, remaining_minutes,
       deadline, is_active, is_sent, sent_at, created_at, resolved_at, metadata`

type alertRepository struct {
	db DB
}

func newAlertRepository(db DB) *alertRepository {
	return &alertRepository{db: db}
}

func (r *alertRepository) Create(ctx context.Context, a *domain.Alert) error {
	const query = `
        INSERT INTO sla_alerts (id, ticket_id, alert_type, sla_dimension, threshold_percentage, remaining_minutes,
            deadline, is_active, is_sent, sent_at, created_at, resolved_at, metadata)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.TicketID, a.Type, a.Dimension, a.ThresholdPercentage, a.RemainingMinutes,
		a.Deadline, a.Active, a.Sent, a.SentAt, a.CreatedAt, a.ResolvedAt, metadataOrEmpty(a.Metadata),
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrActiveAlertExists
	}
	return err
}

func (r *alertRepository) ResolveActive(ctx context.Context, res AlertResolution) error {
	const query = `UPDATE sla_alerts SET is_active=false, resolved_at=$1 WHERE ticket_id=$2 AND is_active`
	_, err := r.db.Exec(ctx, query, res.ResolvedAt, res.TicketID)
	return err
}

func (r *alertRepository) ActiveKeys(ctx context.Context, ticketIDs []string) (map[domain.AlertKey]bool, error) {
	keys := make(map[domain.AlertKey]bool)
	if len(ticketIDs) == 0 {
		return keys, nil
	}
	const query = `SELECT ticket_id, sla_dimension, alert_type FROM sla_alerts WHERE is_active AND ticket_id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ticketIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key domain.AlertKey
		if err := rows.Scan(&key.TicketID, &key.Dimension, &key.Type); err != nil {
			return nil, err
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

func (r *alertRepository) List(ctx context.Context, filter AlertFilter) ([]domain.Alert, error) {
	clauses := []string{"1=1"}
	args := []any{}
	if filter.TicketID != nil {
		args = append(args, *filter.TicketID)
		clauses = append(clauses, fmt.Sprintf("ticket_id=$%d", len(args)))
	}
	if filter.ActiveOnly {
		clauses = append(clauses, "is_active")
	}
	if len(filter.Types) > 0 {
		args = append(args, stringsOf(filter.Types))
		clauses = append(clauses, fmt.Sprintf("alert_type = ANY($%d)", len(args)))
	}
	limit, offset := normalizeLimit(filter.Limit, filter.Offset)

	query := fmt.Sprintf(`SELECT %s FROM sla_alerts WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		alertColumns, strings.Join(clauses, " AND "), limit, offset)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAlerts(rows)
}

func scanAlerts(rows pgx.Rows) ([]domain.Alert, error) {
	var result []domain.Alert
	for rows.Next() {
		var a domain.Alert
		if err := rows.Scan(
			&a.ID, &a.TicketID, &a.Type, &a.Dimension, &a.ThresholdPercentage, &a.RemainingMinutes,
			&a.Deadline, &a.Active, &a.Sent, &a.SentAt, &a.CreatedAt, &a.ResolvedAt, &a.Metadata,
		); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
