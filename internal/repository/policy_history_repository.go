package repository

import (
	"context"

	"github.com/spec-kit/sla-service/internal/domain"
)

type policyHistoryRepository struct {
	db DB
}

func newPolicyHistoryRepository(db DB) *policyHistoryRepository {
	return &policyHistoryRepository{db: db}
}

// Create is idempotent on version.
func (r *policyHistoryRepository) Create(ctx context.Context, v *domain.PolicyVersion) error {
	const query = `
        INSERT INTO sla_policy_history (id, version, source, checksum, document, created_by, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (checksum, version) DO NOTHING`
	_, err := r.db.Exec(ctx, query, v.ID, v.Version, v.Source, v.Checksum, string(v.Document), v.CreatedBy, v.CreatedAt)
	return err
}

func (r *policyHistoryRepository) List(ctx context.Context, limit int) ([]domain.PolicyVersion, error) {
	limit, _ = normalizeLimit(limit, 0)
	const query = `
        SELECT id, version, source, checksum, document, created_by, created_at
        FROM sla_policy_history ORDER BY created_at DESC LIMIT $1`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.PolicyVersion
	for rows.Next() {
		var v domain.PolicyVersion
		var document string
		if err := rows.Scan(&v.ID, &v.Version, &v.Source, &v.Checksum, &document, &v.CreatedBy, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Document = []byte(document)
		result = append(result, v)
	}
	return result, rows.Err()
}
