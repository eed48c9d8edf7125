package contacts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/dbx"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

const columns = `id, owner_id, email, verification_status, verification_token_hash, verification_expires_at,
		 share_index, encrypted_share, created_at`

type scanner interface {
	Scan(dest ...any) error
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.TrustedContact) error {
	query :=
		`INSERT INTO trusted_contacts (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.OwnerID, c.Email, string(c.VerificationStatus), c.VerificationTokenHash, c.VerificationExpiresAt,
		c.ShareIndex, c.EncryptedShare, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.TrustedContact, error) {
	query :=
		`SELECT ` + columns + ` FROM trusted_contacts
		 WHERE id = $1`
	return scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByTokenHash(ctx context.Context, hash string) (*models.TrustedContact, error) {
	query :=
		`SELECT ` + columns + ` FROM trusted_contacts
		 WHERE verification_token_hash = $1`
	return scanOne(r.db.QueryRowContext(ctx, query, hash))
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.TrustedContact, error) {
	query :=
		`SELECT ` + columns + ` FROM trusted_contacts
		 WHERE owner_id = $1
		 ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.TrustedContact
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) Update(ctx context.Context, c *models.TrustedContact) error {
	query :=
		`UPDATE trusted_contacts SET email = $2, verification_status = $3, verification_token_hash = $4,
		 verification_expires_at = $5, share_index = $6, encrypted_share = $7
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		c.ID, c.Email, string(c.VerificationStatus), c.VerificationTokenHash, c.VerificationExpiresAt,
		c.ShareIndex, c.EncryptedShare)
	return affectedOne(res, err)
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM trusted_contacts WHERE id = $1`, id)
	return affectedOne(res, err)
}

func (r *PostgresRepository) ClearShares(ctx context.Context, ownerID string) error {
	query :=
		`UPDATE trusted_contacts SET share_index = 0, encrypted_share = ''
		 WHERE owner_id = $1`

	if _, err := r.db.ExecContext(ctx, query, ownerID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func scanOne(row *sql.Row) (*models.TrustedContact, error) {
	c, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func scan(s scanner) (*models.TrustedContact, error) {
	c := &models.TrustedContact{}
	var status string
	if err := s.Scan(&c.ID, &c.OwnerID, &c.Email, &status, &c.VerificationTokenHash, &c.VerificationExpiresAt,
		&c.ShareIndex, &c.EncryptedShare, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.VerificationStatus = models.VerificationStatus(status)
	return c, nil
}

func affectedOne(res sql.Result, err error) error {
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
