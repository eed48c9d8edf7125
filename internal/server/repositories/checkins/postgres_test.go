package checkins

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+check_in_records\s*\(id,\s*owner_id,\s*sent_at,\s*responded_at,\s*missed\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)$`
	now := time.Now().UTC()

	mock.ExpectExec(q).
		WithArgs("c-1", "o-1", now, sqlmock.AnyArg(), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.CheckInRecord{ID: "c-1", OwnerID: "o-1", SentAt: now, Missed: true})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	mock.ExpectExec(q).WillReturnError(errors.New("db down"))
	err = repo.Create(context.Background(), &models.CheckInRecord{ID: "c-2", OwnerID: "o-1", SentAt: now})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestListRecent(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "owner_id", "sent_at", "responded_at", "missed"}).
		AddRow("c-2", "o-1", now, now, false).
		AddRow("c-1", "o-1", now.Add(-time.Hour), nil, true)

	mock.ExpectQuery(`(?s)FROM\s+check_in_records\s+WHERE\s+owner_id\s*=\s*\$1\s+ORDER\s+BY\s+sent_at\s+DESC\s+LIMIT\s+\$2$`).
		WithArgs("o-1", 10).
		WillReturnRows(rows)

	got, err := repo.ListRecent(context.Background(), "o-1", 10)
	if err != nil {
		t.Fatalf("ListRecent error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].RespondedAt == nil || got[1].RespondedAt != nil || !got[1].Missed {
		t.Fatalf("unexpected records: %+v", got)
	}
}
