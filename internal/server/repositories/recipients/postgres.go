package recipients

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/dbx"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, rec *models.Recipient) error {
	query :=
		`INSERT INTO recipients (id, owner_id, email, created_at)
		 VALUES ($1, $2, $3, $4)`

	if _, err := r.db.ExecContext(ctx, query, rec.ID, rec.OwnerID, rec.Email, rec.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.Recipient, error) {
	query :=
		`SELECT id, owner_id, email, created_at FROM recipients
		 WHERE owner_id = $1
		 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Recipient
	for rows.Next() {
		var rec models.Recipient
		if err := rows.Scan(&rec.ID, &rec.OwnerID, &rec.Email, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) CreateGrant(ctx context.Context, g *models.AccessGrant) error {
	query :=
		`INSERT INTO access_grants (id, request_id, owner_id, recipient_id, token_hash, wrapped_vmk, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		g.ID, g.RequestID, g.OwnerID, g.RecipientID, g.TokenHash, g.WrappedVMK, g.ExpiresAt, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetGrantByTokenHash(ctx context.Context, hash string) (*models.AccessGrant, error) {
	query :=
		`SELECT id, request_id, owner_id, recipient_id, token_hash, wrapped_vmk, expires_at, created_at FROM access_grants
		 WHERE token_hash = $1`

	g := &models.AccessGrant{}
	err := r.db.QueryRowContext(ctx, query, hash).Scan(
		&g.ID, &g.RequestID, &g.OwnerID, &g.RecipientID, &g.TokenHash, &g.WrappedVMK, &g.ExpiresAt, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}
