package checkins

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/legacyvault/internal/dbx"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.CheckInRecord) error {
	query :=
		`INSERT INTO check_in_records (id, owner_id, sent_at, responded_at, missed)
		 VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.ExecContext(ctx, query, rec.ID, rec.OwnerID, rec.SentAt, dbx.NullTime(rec.RespondedAt), rec.Missed)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListRecent(ctx context.Context, ownerID string, limit int) ([]models.CheckInRecord, error) {
	query :=
		`SELECT id, owner_id, sent_at, responded_at, missed FROM check_in_records
		 WHERE owner_id = $1
		 ORDER BY sent_at DESC
		 LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.CheckInRecord
	for rows.Next() {
		var rec models.CheckInRecord
		var responded sql.NullTime
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.SentAt, &responded, &rec.Missed); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		rec.RespondedAt = dbx.TimePtr(responded)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
