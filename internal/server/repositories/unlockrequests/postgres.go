package unlockrequests

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/dbx"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

const columns = `id, owner_id, status, created_at, grace_period_end, expires_at,
		 confirmation_count, confirmed_contact_ids, reason, resolved_at`

type scanner interface {
	Scan(dest ...any) error
}

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, req *models.UnlockRequest) error {
	query :=
		`INSERT INTO unlock_requests (` + columns + `)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10)`

	ids, err := json.Marshal(nonNil(req.ConfirmedContactIDs))
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		req.ID, req.OwnerID, string(req.Status), req.CreatedAt, req.GracePeriodEnd, req.ExpiresAt,
		req.ConfirmationCount, string(ids), req.Reason, dbx.NullTime(req.ResolvedAt))
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrAlreadyOpen
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (*models.UnlockRequest, error) {
	query :=
		`SELECT ` + columns + ` FROM unlock_requests
		 WHERE id = $1`
	return scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetOpenByOwner(ctx context.Context, ownerID string) (*models.UnlockRequest, error) {
	query :=
		`SELECT ` + columns + ` FROM unlock_requests
		 WHERE owner_id = $1 AND status IN ($2, $3)`
	return scanOne(r.db.QueryRowContext(ctx, query, ownerID,
		string(models.UnlockGracePeriod), string(models.UnlockPendingConfirmation)))
}

func (r *PostgresRepository) ListByOwner(ctx context.Context, ownerID string) ([]models.UnlockRequest, error) {
	query :=
		`SELECT ` + columns + ` FROM unlock_requests
		 WHERE owner_id = $1
		 ORDER BY created_at DESC`
	return r.list(ctx, query, ownerID)
}

func (r *PostgresRepository) ListExpirable(ctx context.Context, now time.Time) ([]models.UnlockRequest, error) {
	query :=
		`SELECT ` + columns + ` FROM unlock_requests
		 WHERE status = $1 AND expires_at <= $2
		 ORDER BY expires_at`
	return r.list(ctx, query, string(models.UnlockPendingConfirmation), now)
}

func (r *PostgresRepository) Transition(ctx context.Context, id string, from []models.UnlockStatus, to models.UnlockStatus, reason string, resolvedAt *time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}

	query :=
		`UPDATE unlock_requests SET status = $2, reason = $3, resolved_at = $4
		 WHERE id = $1 AND status IN (` + dbx.Placeholders(5, len(from)) + `)`

	args := []any{id, string(to), reason, dbx.NullTime(resolvedAt)}
	for _, s := range from {
		args = append(args, string(s))
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) AddConfirmation(ctx context.Context, id, contactID string) (int, bool, error) {
	query :=
		`UPDATE unlock_requests
		 SET confirmation_count = confirmation_count + 1,
		     confirmed_contact_ids = confirmed_contact_ids || jsonb_build_array($2::text)
		 WHERE id = $1 AND status = $3
		   AND NOT (confirmed_contact_ids @> jsonb_build_array($2::text))
		 RETURNING confirmation_count`

	var count int
	err := r.db.QueryRowContext(ctx, query, id, contactID, string(models.UnlockPendingConfirmation)).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("db error: %w", err)
	}

	// Nothing updated: either a repeat submission or the request moved on.
	req, err := r.Get(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if req.Status != models.UnlockPendingConfirmation {
		return 0, false, common.ErrRequestClosed
	}
	return req.ConfirmationCount, false, nil
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]models.UnlockRequest, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.UnlockRequest
	for rows.Next() {
		req, err := scan(rows)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func scanOne(row *sql.Row) (*models.UnlockRequest, error) {
	req, err := scan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return req, nil
}

func scan(s scanner) (*models.UnlockRequest, error) {
	req := &models.UnlockRequest{}
	var (
		status   string
		ids      []byte
		resolved sql.NullTime
	)
	if err := s.Scan(&req.ID, &req.OwnerID, &status, &req.CreatedAt, &req.GracePeriodEnd, &req.ExpiresAt,
		&req.ConfirmationCount, &ids, &req.Reason, &resolved); err != nil {
		return nil, err
	}
	req.Status = models.UnlockStatus(status)
	req.ResolvedAt = dbx.TimePtr(resolved)
	req.ConfirmedContactIDs = []string{}
	if len(ids) > 0 {
		if err := json.Unmarshal(ids, &req.ConfirmedContactIDs); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
