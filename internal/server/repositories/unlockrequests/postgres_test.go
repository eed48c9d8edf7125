package unlockrequests

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

var requestCols = []string{"id", "owner_id", "status", "created_at", "grace_period_end", "expires_at",
	"confirmation_count", "confirmed_contact_ids", "reason", "resolved_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+unlock_requests\s*\(.*\)\s*VALUES\s*\(\$1,.*\$8::jsonb,\s*\$9,\s*\$10\)$`).
		WithArgs("r-1", "o-1", "grace_period", now, now, now, 0, "[]", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.UnlockRequest{
		ID: "r-1", OwnerID: "o-1", Status: models.UnlockGracePeriod,
		CreatedAt: now, GracePeriodEnd: now, ExpiresAt: now,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func TestCreate_SecondOpenRequestRejected(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+unlock_requests`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "unlock_requests_one_open_idx"})

	err := repo.Create(context.Background(), &models.UnlockRequest{ID: "r-2", OwnerID: "o-1", Status: models.UnlockGracePeriod})
	if !errors.Is(err, common.ErrAlreadyOpen) {
		t.Fatalf("want ErrAlreadyOpen, got %v", err)
	}
}

func TestGetOpenByOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	q := `(?s)FROM\s+unlock_requests\s+WHERE\s+owner_id\s*=\s*\$1\s+AND\s+status\s+IN\s+\(\$2,\s*\$3\)$`

	mock.ExpectQuery(q).
		WithArgs("o-1", "grace_period", "pending_confirmation").
		WillReturnRows(sqlmock.NewRows(requestCols).
			AddRow("r-1", "o-1", "pending_confirmation", now, now, now, 1, []byte(`["c-1"]`), "", nil))

	got, err := repo.GetOpenByOwner(context.Background(), "o-1")
	if err != nil {
		t.Fatalf("GetOpenByOwner error: %v", err)
	}
	if got.Status != models.UnlockPendingConfirmation || len(got.ConfirmedContactIDs) != 1 || got.ConfirmedContactIDs[0] != "c-1" {
		t.Fatalf("unexpected request: %+v", got)
	}

	mock.ExpectQuery(q).WithArgs("o-2", "grace_period", "pending_confirmation").WillReturnError(sql.ErrNoRows)
	if _, err := repo.GetOpenByOwner(context.Background(), "o-2"); !errors.Is(err, common.ErrorNotFound) {
		t.Fatalf("want ErrorNotFound, got %v", err)
	}
}

func TestTransition_CAS(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+unlock_requests\s+SET\s+status\s*=\s*\$2,\s*reason\s*=\s*\$3,\s*resolved_at\s*=\s*\$4\s+WHERE\s+id\s*=\s*\$1\s+AND\s+status\s+IN\s+\(\$5\)$`
	now := time.Now().UTC()

	mock.ExpectExec(q).
		WithArgs("r-1", "unlocked", "", sqlmock.AnyArg(), "pending_confirmation").
		WillReturnResult(sqlmock.NewResult(0, 1))
	ok, err := repo.Transition(context.Background(), "r-1",
		[]models.UnlockStatus{models.UnlockPendingConfirmation}, models.UnlockUnlocked, "", &now)
	if err != nil || !ok {
		t.Fatalf("expected transition, got ok=%v err=%v", ok, err)
	}

	mock.ExpectExec(q).
		WithArgs("r-1", "unlocked", "", sqlmock.AnyArg(), "pending_confirmation").
		WillReturnResult(sqlmock.NewResult(0, 0))
	ok, err = repo.Transition(context.Background(), "r-1",
		[]models.UnlockStatus{models.UnlockPendingConfirmation}, models.UnlockUnlocked, "", &now)
	if err != nil || ok {
		t.Fatalf("expected lost CAS, got ok=%v err=%v", ok, err)
	}
}

func TestTransition_MultipleFromStatuses(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)status\s+IN\s+\(\$5,\s*\$6\)$`).
		WithArgs("r-1", "cancelled", "owner checked in", sqlmock.AnyArg(), "grace_period", "pending_confirmation").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Transition(context.Background(), "r-1", models.OpenStatuses, models.UnlockCancelled, "owner checked in", nil)
	if err != nil || !ok {
		t.Fatalf("expected transition, got ok=%v err=%v", ok, err)
	}
}

func TestAddConfirmation_Increments(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)^UPDATE\s+unlock_requests\s+SET\s+confirmation_count\s*=\s*confirmation_count\s*\+\s*1,.*RETURNING\s+confirmation_count$`).
		WithArgs("r-1", "c-1", "pending_confirmation").
		WillReturnRows(sqlmock.NewRows([]string{"confirmation_count"}).AddRow(2))

	count, added, err := repo.AddConfirmation(context.Background(), "r-1", "c-1")
	if err != nil || !added || count != 2 {
		t.Fatalf("unexpected result: count=%d added=%v err=%v", count, added, err)
	}
}

func TestAddConfirmation_RepeatIsNoop(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)^UPDATE\s+unlock_requests`).
		WithArgs("r-1", "c-1", "pending_confirmation").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)FROM\s+unlock_requests\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(requestCols).
			AddRow("r-1", "o-1", "pending_confirmation", now, now, now, 1, []byte(`["c-1"]`), "", nil))

	count, added, err := repo.AddConfirmation(context.Background(), "r-1", "c-1")
	if err != nil || added || count != 1 {
		t.Fatalf("unexpected result: count=%d added=%v err=%v", count, added, err)
	}
}

func TestAddConfirmation_ClosedRequest(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)^UPDATE\s+unlock_requests`).WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`(?s)FROM\s+unlock_requests\s+WHERE\s+id\s*=\s*\$1$`).
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(requestCols).
			AddRow("r-1", "o-1", "expired", now, now, now, 1, []byte(`["c-1"]`), "", now))

	_, _, err := repo.AddConfirmation(context.Background(), "r-1", "c-2")
	if !errors.Is(err, common.ErrRequestClosed) {
		t.Fatalf("want ErrRequestClosed, got %v", err)
	}
}

func TestListExpirable(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery(`(?s)WHERE\s+status\s*=\s*\$1\s+AND\s+expires_at\s*<=\s*\$2\s+ORDER\s+BY\s+expires_at$`).
		WithArgs("pending_confirmation", now).
		WillReturnRows(sqlmock.NewRows(requestCols).
			AddRow("r-1", "o-1", "pending_confirmation", now, now, now, 0, []byte(`[]`), "", nil))

	got, err := repo.ListExpirable(context.Background(), now)
	if err != nil {
		t.Fatalf("ListExpirable error: %v", err)
	}
	if len(got) != 1 || got[0].ConfirmedContactIDs == nil {
		t.Fatalf("unexpected requests: %+v", got)
	}
}

func TestListByOwner_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)ORDER\s+BY\s+created_at\s+DESC$`).WithArgs("o-1").WillReturnError(errors.New("db down"))

	_, err := repo.ListByOwner(context.Background(), "o-1")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}
