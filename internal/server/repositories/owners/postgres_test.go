package owners

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

var ownerCols = []string{"id", "email", "check_in_interval_days", "grace_days", "enabled", "last_check_in_at", "last_reminder_at",
	"missed_count", "vmk_salt", "encrypted_vmk", "encrypted_vmk_threshold", "key_version", "created_at", "updated_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func sampleOwner(now time.Time) *models.Owner {
	return &models.Owner{
		ID: "o-1", Email: "owner@example.com", CheckInIntervalDays: 30, GraceDays: 30, Enabled: true,
		LastCheckInAt: now, CreatedAt: now, UpdatedAt: now,
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+owners\s*\(id,\s*email,.*updated_at\)\s*VALUES\s*\(\$1,.*\$14\)$`).
		WithArgs("o-1", "owner@example.com", 30, 30, true, now, sqlmock.AnyArg(), 0, sqlmock.AnyArg(), "", "", 0, now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Create(context.Background(), sampleOwner(now)); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreate_Duplicate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+owners`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := repo.Create(context.Background(), sampleOwner(time.Now()))
	if !errors.Is(err, common.ErrorAlreadyExists) {
		t.Fatalf("want ErrorAlreadyExists, got %v", err)
	}
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	reminder := now.Add(-time.Hour)
	rows := sqlmock.NewRows(ownerCols).
		AddRow("o-1", "owner@example.com", 30, 14, false, now, reminder, 2, []byte("salt"), "ct:iv", "", 1, now, now)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*email,.*FROM\s+owners\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("o-1").
		WillReturnRows(rows)

	got, err := repo.Get(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.GraceDays != 14 || got.Enabled || got.MissedCount != 2 || got.EncryptedVMK != "ct:iv" || string(got.VMKSalt) != "salt" {
		t.Fatalf("unexpected owner: %+v", got)
	}
	if got.LastReminderAt == nil || !got.LastReminderAt.Equal(reminder) {
		t.Fatalf("unexpected last reminder: %v", got.LastReminderAt)
	}
}

func TestGetForUpdate_LocksRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows(ownerCols).
		AddRow("o-1", "owner@example.com", 30, 30, true, now, nil, 0, nil, "", "", 0, now, now)
	mock.ExpectQuery(`(?s)FROM\s+owners\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE$`).
		WithArgs("o-1").
		WillReturnRows(rows)

	got, err := repo.GetForUpdate(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("GetForUpdate error: %v", err)
	}
	if got.LastReminderAt != nil {
		t.Fatalf("expected nil reminder, got %v", got.LastReminderAt)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)FROM\s+owners`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want common.ErrorNotFound, got %v", err)
	}
}

func TestGet_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)FROM\s+owners`).WithArgs("o-1").WillReturnError(errors.New("db down"))

	_, err := repo.Get(context.Background(), "o-1")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+owners\s+SET\s+email\s*=\s*\$2,.*WHERE\s+id\s*=\s*\$1$`

	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.Update(context.Background(), sampleOwner(time.Now())); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	mock.ExpectExec(q).WillReturnResult(sqlmock.NewResult(0, 0))
	if err := repo.Update(context.Background(), sampleOwner(time.Now())); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}

	mock.ExpectExec(q).WillReturnError(errors.New("db err"))
	if err := repo.Update(context.Background(), sampleOwner(time.Now())); err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestListEnabledIDs(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^SELECT\s+id\s+FROM\s+owners\s+WHERE\s+enabled\s+ORDER\s+BY\s+id$`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("a").AddRow("b"))

	ids, err := repo.ListEnabledIDs(context.Background())
	if err != nil {
		t.Fatalf("ListEnabledIDs error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("unexpected ids: %v", ids)
	}
}
