package repomanager

import (
	"context"

	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/checkins"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/contacts"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/itemkeys"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/owners"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/recipients"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/submissions"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/unlockrequests"
)

// Repositories groups every repository bound to one handle, either the
// shared pool or a single transaction.
type Repositories interface {
	Owners() owners.Repository
	CheckIns() checkins.Repository
	Contacts() contacts.Repository
	UnlockRequests() unlockrequests.Repository
	Submissions() submissions.Repository
	Recipients() recipients.Repository
	ItemKeys() itemkeys.Repository
}

// Store is the persistence backend used by the services.
type Store interface {
	Repositories

	// WithTx runs fn against repositories bound to one transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	// fn must not use the Store's own repositories.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
	RunMigrations(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
