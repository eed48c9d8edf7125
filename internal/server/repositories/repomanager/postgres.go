// Package repomanager provides the Store backends: PostgreSQL, wiring
// together repository constructors and goose migrations, and an in-memory
// store for development and tests.
package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dmitrijs2005/legacyvault/internal/dbx"
	"github.com/dmitrijs2005/legacyvault/internal/server/migrations"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/checkins"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/contacts"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/itemkeys"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/owners"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/recipients"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/submissions"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/unlockrequests"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories bound to
// one DBTX.
type PostgresRepositoryManager struct {
	db dbx.DBTX
}

func (m *PostgresRepositoryManager) Owners() owners.Repository {
	return owners.NewPostgresRepository(m.db)
}

func (m *PostgresRepositoryManager) CheckIns() checkins.Repository {
	return checkins.NewPostgresRepository(m.db)
}

func (m *PostgresRepositoryManager) Contacts() contacts.Repository {
	return contacts.NewPostgresRepository(m.db)
}

func (m *PostgresRepositoryManager) UnlockRequests() unlockrequests.Repository {
	return unlockrequests.NewPostgresRepository(m.db)
}

func (m *PostgresRepositoryManager) Submissions() submissions.Repository {
	return submissions.NewPostgresRepository(m.db)
}

func (m *PostgresRepositoryManager) Recipients() recipients.Repository {
	return recipients.NewPostgresRepository(m.db)
}

func (m *PostgresRepositoryManager) ItemKeys() itemkeys.Repository {
	return itemkeys.NewPostgresRepository(m.db)
}

// PostgresStore is a Store over a *sql.DB opened with the pgx driver.
type PostgresStore struct {
	PostgresRepositoryManager
	conn *sql.DB
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// NewPostgresStore opens a pgx connection pool for dsn.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	return NewPostgresStoreFromDB(conn), nil
}

// NewPostgresStoreFromDB wraps an existing connection.
func NewPostgresStoreFromDB(conn *sql.DB) *PostgresStore {
	return &PostgresStore{PostgresRepositoryManager: PostgresRepositoryManager{db: conn}, conn: conn}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return dbx.WithTx(ctx, s.conn, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &PostgresRepositoryManager{db: tx})
	})
}

// RunMigrations sets up goose with the embedded migrations and runs them.
func (s *PostgresStore) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, s.conn, "."); err != nil {
		return err
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.conn.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.conn.Close()
}
