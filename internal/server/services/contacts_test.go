package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/auth"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactService_AddAndVerify(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.newOwner(t, "owner")

	c, err := h.contacts.Add(ctx, "owner", "Alice <Alice@Example.com>")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", c.Email)
	assert.Equal(t, models.VerificationPending, c.VerificationStatus)

	ev, ok := h.notes.Last(notify.EventContactVerification, c.ID)
	require.True(t, ok)
	token := ev.Payload["token"]
	assert.NotEqual(t, token, c.VerificationTokenHash, "only the hash is stored")

	verified, bearer, err := h.contacts.Verify(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, verified.VerificationStatus)

	p, err := auth.NewIssuer([]byte("test-secret"), time.Hour).WithClock(h.clock).Parse(bearer)
	require.NoError(t, err)
	assert.Equal(t, auth.RoleContact, p.Role)
	assert.Equal(t, c.ID, p.Subject)
	assert.Equal(t, "owner", p.OwnerID)

	// The link is spent: replaying it mints no second bearer and leaves
	// the contact verified.
	_, again, err := h.contacts.Verify(ctx, token)
	require.ErrorIs(t, err, common.ErrInvalidToken)
	assert.Empty(t, again)
	got, err := h.store.Contacts().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, got.VerificationStatus)

	_, _, err = h.contacts.Verify(ctx, "bogus")
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestContactService_VerificationTokenExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.newOwner(t, "owner")

	c, err := h.contacts.Add(ctx, "owner", "late@example.com")
	require.NoError(t, err)
	ev, _ := h.notes.Last(notify.EventContactVerification, c.ID)

	h.clock.Add(VerificationTokenTTL)
	_, _, err = h.contacts.Verify(ctx, ev.Payload["token"])
	require.ErrorIs(t, err, common.ErrTokenExpired)

	got, err := h.store.Contacts().Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationExpired, got.VerificationStatus)
}

func TestContactService_AddLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.newOwner(t, "owner")

	_, err := h.contacts.Add(ctx, "owner", "not an email")
	require.ErrorIs(t, err, common.ErrorValidation)

	_, err = h.contacts.Add(ctx, "ghost", "a@example.com")
	require.ErrorIs(t, err, common.ErrorNotFound)

	for _, e := range []string{"a@example.com", "b@example.com"} {
		_, err := h.contacts.Add(ctx, "owner", e)
		require.NoError(t, err)
	}
	_, err = h.contacts.Add(ctx, "owner", "A@example.com")
	require.ErrorIs(t, err, common.ErrorAlreadyExists)

	_, err = h.contacts.Add(ctx, "owner", "c@example.com")
	require.NoError(t, err)
	_, err = h.contacts.Add(ctx, "owner", "d@example.com")
	require.ErrorIs(t, err, common.ErrContactLimit)
}

func TestContactService_IssueSharesRequiresThreeVerified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.newOwner(t, "owner")

	_, err := h.contacts.IssueShares(ctx, "owner", "no-session")
	require.ErrorIs(t, err, common.ErrSessionNotFound)

	sess, err := h.vault.Setup(ctx, "owner", []byte(testPassword))
	require.NoError(t, err)

	h.addVerifiedContact(t, "owner", "a@example.com")
	h.addVerifiedContact(t, "owner", "b@example.com")
	_, err = h.contacts.Add(ctx, "owner", "c@example.com")
	require.NoError(t, err)

	_, err = h.contacts.IssueShares(ctx, "owner", sess.ID)
	require.ErrorIs(t, err, common.ErrContactsNotReady)
}

func TestContactService_IssueSharesStoresOnlySealedShares(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, holders := h.armedOwner(t, "owner")

	o, err := h.store.Owners().Get(ctx, "owner")
	require.NoError(t, err)
	assert.NotEmpty(t, o.EncryptedVMKThreshold)

	indexes := map[int]bool{}
	for _, hd := range holders {
		indexes[hd.Index] = true
		c, err := h.store.Contacts().Get(ctx, hd.ID)
		require.NoError(t, err)
		assert.True(t, c.HoldsShare())
		assert.NotContains(t, c.EncryptedShare, EncodeShareKey(hd.Key))
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, indexes)

	// Reissuing replaces every share and key.
	_, err = h.contacts.IssueShares(ctx, "owner", sess.ID)
	require.NoError(t, err)
	for _, hd := range holders {
		ev, ok := h.notes.Last(notify.EventShareIssued, hd.ID)
		require.True(t, ok)
		assert.NotEqual(t, EncodeShareKey(hd.Key), ev.Payload["share_key"])
	}
}

func TestContactService_LockedWhileRequestOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, holders := h.armedOwner(t, "owner")
	h.openRequest(t, "owner")

	_, err := h.contacts.Add(ctx, "owner", "new@example.com")
	require.ErrorIs(t, err, common.ErrContactsLocked)

	err = h.contacts.Remove(ctx, "owner", holders[0].ID)
	require.ErrorIs(t, err, common.ErrContactsLocked)

	// The owner's session may have lapsed; reopen it to reach the lock check.
	sess, err := h.vault.OpenSession(ctx, "owner", []byte(testPassword))
	require.NoError(t, err)
	_, err = h.contacts.IssueShares(ctx, "owner", sess.ID)
	require.ErrorIs(t, err, common.ErrContactsLocked)
}

func TestContactService_RemoveShareHolderInvalidatesShares(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, holders := h.armedOwner(t, "owner")
	h.newOwner(t, "stranger")

	err := h.contacts.Remove(ctx, "stranger", holders[0].ID)
	require.ErrorIs(t, err, common.ErrorNotFound)

	require.NoError(t, h.contacts.Remove(ctx, "owner", holders[0].ID))

	o, err := h.store.Owners().Get(ctx, "owner")
	require.NoError(t, err)
	assert.Empty(t, o.EncryptedVMKThreshold)

	left, err := h.contacts.List(ctx, "owner")
	require.NoError(t, err)
	require.Len(t, left, 2)
	for _, c := range left {
		assert.False(t, c.HoldsShare())
		_, ok := h.notes.Last(notify.EventSharesInvalidated, c.ID)
		assert.True(t, ok)
	}
}
