package submissions

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/dbx"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Add(ctx context.Context, s *models.ShareSubmission) (bool, error) {
	query :=
		`INSERT INTO share_submissions (request_id, contact_id, share_index, sealed_share, submitted_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (request_id, contact_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, s.RequestID, s.ContactID, s.ShareIndex, s.SealedShare, s.SubmittedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) ListActive(ctx context.Context, requestID string) ([]models.ShareSubmission, error) {
	query :=
		`SELECT request_id, contact_id, share_index, sealed_share, submitted_at, revoked_at FROM share_submissions
		 WHERE request_id = $1 AND revoked_at IS NULL
		 ORDER BY submitted_at`

	rows, err := r.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.ShareSubmission
	for rows.Next() {
		var s models.ShareSubmission
		var revoked sql.NullTime
		if err := rows.Scan(&s.RequestID, &s.ContactID, &s.ShareIndex, &s.SealedShare, &s.SubmittedAt, &revoked); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		s.RevokedAt = dbx.TimePtr(revoked)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, requestID string, at time.Time) error {
	query :=
		`UPDATE share_submissions SET sealed_share = '', revoked_at = $2
		 WHERE request_id = $1 AND revoked_at IS NULL`

	if _, err := r.db.ExecContext(ctx, query, requestID, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
