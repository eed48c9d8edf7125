package owners

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/dbx"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

const columns = `id, email, check_in_interval_days, grace_days, enabled, last_check_in_at, last_reminder_at,
		 missed_count, vmk_salt, encrypted_vmk, encrypted_vmk_threshold, key_version, created_at, updated_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, o *models.Owner) error {
	query :=
		`INSERT INTO owners (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`

	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.Email, o.CheckInIntervalDays, o.GraceDays, o.Enabled, o.LastCheckInAt, dbx.NullTime(o.LastReminderAt),
		o.MissedCount, o.VMKSalt, o.EncryptedVMK, o.EncryptedVMKThreshold, o.KeyVersion, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.Owner, error) {
	query :=
		`SELECT ` + columns + ` FROM owners
		 WHERE id = $1`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id string) (*models.Owner, error) {
	query :=
		`SELECT ` + columns + ` FROM owners
		 WHERE id = $1
		 FOR UPDATE`
	return r.getOne(ctx, query, id)
}

func (r *PostgresRepository) Update(ctx context.Context, o *models.Owner) error {
	query :=
		`UPDATE owners SET email = $2, check_in_interval_days = $3, grace_days = $4, enabled = $5,
		 last_check_in_at = $6, last_reminder_at = $7, missed_count = $8, vmk_salt = $9,
		 encrypted_vmk = $10, encrypted_vmk_threshold = $11, key_version = $12, updated_at = $13
		 WHERE id = $1`

	res, err := r.db.ExecContext(ctx, query,
		o.ID, o.Email, o.CheckInIntervalDays, o.GraceDays, o.Enabled, o.LastCheckInAt, dbx.NullTime(o.LastReminderAt),
		o.MissedCount, o.VMKSalt, o.EncryptedVMK, o.EncryptedVMKThreshold, o.KeyVersion, o.UpdatedAt)
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

func (r *PostgresRepository) ListEnabledIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM owners WHERE enabled ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, id string) (*models.Owner, error) {
	o := &models.Owner{}
	var lastReminder sql.NullTime

	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&o.ID, &o.Email, &o.CheckInIntervalDays, &o.GraceDays, &o.Enabled, &o.LastCheckInAt, &lastReminder,
		&o.MissedCount, &o.VMKSalt, &o.EncryptedVMK, &o.EncryptedVMKThreshold, &o.KeyVersion, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	o.LastReminderAt = dbx.TimePtr(lastReminder)
	return o, nil
}
