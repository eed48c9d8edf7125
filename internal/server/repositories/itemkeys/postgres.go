package itemkeys

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

func (r *PostgresRepository) Create(ctx context.Context, k *models.ItemKey) (bool, error) {
	query :=
		`INSERT INTO item_keys (owner_id, item_id, wrapped_key, key_version, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (owner_id, item_id) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query, k.OwnerID, k.ItemID, k.WrappedKey, k.KeyVersion, k.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Get(ctx context.Context, ownerID, itemID string) (*models.ItemKey, error) {
	query :=
		`SELECT owner_id, item_id, wrapped_key, key_version, created_at FROM item_keys
		 WHERE owner_id = $1 AND item_id = $2`

	k := &models.ItemKey{}
	err := r.db.QueryRowContext(ctx, query, ownerID, itemID).Scan(&k.OwnerID, &k.ItemID, &k.WrappedKey, &k.KeyVersion, &k.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return k, nil
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.ItemKey, error) {
	query :=
		`SELECT owner_id, item_id, wrapped_key, key_version, created_at FROM item_keys
		 WHERE owner_id = $1
		 ORDER BY item_id`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.ItemKey
	for rows.Next() {
		var k models.ItemKey
		if err := rows.Scan(&k.OwnerID, &k.ItemID, &k.WrappedKey, &k.KeyVersion, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, k *models.ItemKey) error {
	query :=
		`UPDATE item_keys SET wrapped_key = $3, key_version = $4
		 WHERE owner_id = $1 AND item_id = $2`

	res, err := r.db.ExecContext(ctx, query, k.OwnerID, k.ItemID, k.WrappedKey, k.KeyVersion)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
