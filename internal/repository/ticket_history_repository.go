package repository

import (
	"context"

	"github.com/spec-kit/sla-service/internal/domain"
)

type historyRepository struct {
	db DB
}

func newHistoryRepository(db DB) *historyRepository {
	return &historyRepository{db: db}
}

func (r *historyRepository) Create(ctx context.Context, h *domain.StatusHistory) error {
	const query = `
        INSERT INTO ticket_status_history (id, ticket_id, from_status, to_status, changed_by, reason, changed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := r.db.Exec(ctx, query, h.ID, h.TicketID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Reason, h.ChangedAt)
	return err
}

func (r *historyRepository) ListByTicket(ctx context.Context, ticketID string) ([]domain.StatusHistory, error) {
	const query = `
        SELECT id, ticket_id, from_status, to_status, changed_by, reason, changed_at
        FROM ticket_status_history WHERE ticket_id=$1 ORDER BY changed_at ASC, id ASC`
	rows, err := r.db.Query(ctx, query, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.StatusHistory
	for rows.Next() {
		var h domain.StatusHistory
		if err := rows.Scan(&h.ID, &h.TicketID, &h.FromStatus, &h.ToStatus, &h.ChangedBy, &h.Reason, &h.ChangedAt); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	return result, rows.Err()
}
