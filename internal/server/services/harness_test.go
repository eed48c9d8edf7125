package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/legacyvault/internal/cryptox"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/auth"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/owners"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/legacyvault/internal/server/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

const testPassword = "Correct-horse-battery-9"

var t0 = time.Date(2026, time.January, 1, 9, 0, 0, 0, time.UTC)

var testKDFParams = cryptox.KDFParams{Time: 1, MemoryKiB: 8 * 1024, Threads: 1, KeyLen: cryptox.KeySize}

type harness struct {
	store      repomanager.Store
	clock      *clock.Mock
	notes      *notify.MemoryDispatcher
	sessions   *session.Store
	shares     *ShareStore
	recipients *RecipientService
	unlock     *UnlockMachine
	checkins   *CheckInService
	contacts   *ContactService
	vault      *VaultService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, repomanager.NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, store repomanager.Store) *harness {
	t.Helper()

	clk := clock.NewMock()
	clk.Set(t0)

	logger := logging.NewDiscardLogger()
	notes := notify.NewMemoryDispatcher()
	sessions := session.NewStore(15*time.Minute, clk)
	tokens := auth.NewIssuer([]byte("test-secret"), time.Hour).WithClock(clk)

	pool := cryptox.NewKDFPool(1, testKDFParams)
	t.Cleanup(pool.Close)

	shares := NewShareStore(cryptox.NewKey(), logger)
	recipients := NewRecipientService(store, sessions, clk, logger)
	unlock := NewUnlockMachine(store, shares, recipients, notes, tokens, clk, logger, DefaultPolicy())
	checkins := NewCheckInService(store, unlock, notes, clk, logger, DefaultPolicy(), 4).WithRetry(3, time.Millisecond)

	return &harness{
		store:      store,
		clock:      clk,
		notes:      notes,
		sessions:   sessions,
		shares:     shares,
		recipients: recipients,
		unlock:     unlock,
		checkins:   checkins,
		contacts:   NewContactService(store, shares, sessions, notes, tokens, clk, logger),
		vault:      NewVaultService(store, sessions, pool, shares, notes, clk, logger),
	}
}

// shareHolder is what a contact ends up with after share issuance.
type shareHolder struct {
	ID    string
	Index int
	Key   []byte
}

// newOwner configures an owner with a 30/30 day switch at the current time.
func (h *harness) newOwner(t *testing.T, ownerID string) {
	t.Helper()
	_, err := h.checkins.Configure(context.Background(), ownerID, SwitchSettings{Email: ownerID + "@example.com", IntervalDays: 30, GraceDays: 30})
	require.NoError(t, err)
}

func (h *harness) addVerifiedContact(t *testing.T, ownerID, email string) *models.TrustedContact {
	t.Helper()
	ctx := context.Background()

	c, err := h.contacts.Add(ctx, ownerID, email)
	require.NoError(t, err)
	ev, ok := h.notes.Last(notify.EventContactVerification, c.ID)
	require.True(t, ok)

	verified, _, err := h.contacts.Verify(ctx, ev.Payload["token"])
	require.NoError(t, err)
	return verified
}

// armedOwner returns an owner with a vault, three share-holding contacts and
// an open owner session.
func (h *harness) armedOwner(t *testing.T, ownerID string) (SessionInfo, []shareHolder) {
	t.Helper()
	ctx := context.Background()

	h.newOwner(t, ownerID)
	sess, err := h.vault.Setup(ctx, ownerID, []byte(testPassword))
	require.NoError(t, err)

	for i := 0; i < MaxContacts; i++ {
		h.addVerifiedContact(t, ownerID, fmt.Sprintf("contact%d.%s@example.com", i, ownerID))
	}

	issued, err := h.contacts.IssueShares(ctx, ownerID, sess.ID)
	require.NoError(t, err)
	require.Len(t, issued, MaxContacts)

	holders := make([]shareHolder, 0, len(issued))
	for _, c := range issued {
		ev, ok := h.notes.Last(notify.EventShareIssued, c.ID)
		require.True(t, ok)
		key, err := DecodeShareKey(ev.Payload["share_key"])
		require.NoError(t, err)
		holders = append(holders, shareHolder{ID: c.ID, Index: c.ShareIndex, Key: key})
	}
	return sess, holders
}

// openRequest moves the clock to the owner's grace deadline and sweeps.
func (h *harness) openRequest(t *testing.T, ownerID string) *models.UnlockRequest {
	t.Helper()
	ctx := context.Background()

	o, err := h.store.Owners().Get(ctx, ownerID)
	require.NoError(t, err)
	h.clock.Set(Evaluate(o, h.clock.Now()).GraceEndsAt)

	_, err = h.checkins.Sweep(ctx)
	require.NoError(t, err)

	req, err := h.store.UnlockRequests().GetOpenByOwner(ctx, ownerID)
	require.NoError(t, err)
	return req
}

func (h *harness) request(t *testing.T, id string) *models.UnlockRequest {
	t.Helper()
	req, err := h.store.UnlockRequests().Get(context.Background(), id)
	require.NoError(t, err)
	return req
}

var errTransient = errors.New("connection reset")

// flakyStore fails GetForUpdate for one owner a fixed number of times.
type flakyStore struct {
	*repomanager.MemoryStore
	failOwner string
	failures  *atomic.Int64
}

func (s *flakyStore) WithTx(ctx context.Context, fn func(ctx context.Context, repos repomanager.Repositories) error) error {
	return s.MemoryStore.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		return fn(ctx, flakyRepos{Repositories: repos, s: s})
	})
}

type flakyRepos struct {
	repomanager.Repositories
	s *flakyStore
}

func (r flakyRepos) Owners() owners.Repository {
	return flakyOwners{Repository: r.Repositories.Owners(), s: r.s}
}

type flakyOwners struct {
	owners.Repository
	s *flakyStore
}

func (o flakyOwners) GetForUpdate(ctx context.Context, id string) (*models.Owner, error) {
	if id == o.s.failOwner && o.s.failures.Dec() >= 0 {
		return nil, errTransient
	}
	return o.Repository.GetForUpdate(ctx, id)
}
