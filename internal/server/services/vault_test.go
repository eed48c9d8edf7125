package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVaultService_SetupAndSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.newOwner(t, "owner")

	_, err := h.vault.Setup(ctx, "owner", []byte("short"))
	require.ErrorIs(t, err, common.ErrWeakSecret)

	_, err = h.vault.OpenSession(ctx, "owner", []byte(testPassword))
	require.ErrorIs(t, err, common.ErrVaultNotInitialized)

	sess, err := h.vault.Setup(ctx, "owner", []byte(testPassword))
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, t0.Add(15*time.Minute), sess.ExpiresAt)

	_, err = h.vault.Setup(ctx, "owner", []byte(testPassword))
	require.ErrorIs(t, err, common.ErrVaultInitialized)

	o, err := h.store.Owners().Get(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, 1, o.KeyVersion)
	assert.NotEmpty(t, o.VMKSalt)

	for _, pw := range []string{"Wrong-password-123", "weak"} {
		_, err = h.vault.OpenSession(ctx, "owner", []byte(pw))
		require.ErrorIs(t, err, common.ErrDecryption, pw)
	}

	_, dek, err := h.vault.CreateItemKey(ctx, "owner", sess.ID, "notes")
	require.NoError(t, err)

	again, err := h.vault.OpenSession(ctx, "owner", []byte(testPassword))
	require.NoError(t, err)
	got, err := h.vault.ItemKey(ctx, again.ID, "notes")
	require.NoError(t, err)
	assert.Equal(t, dek, got)

	require.NoError(t, h.vault.CloseSession(ctx, "owner", again.ID))
	_, err = h.vault.ItemKey(ctx, again.ID, "notes")
	require.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestVaultService_ItemKeys(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.newOwner(t, "owner")
	h.newOwner(t, "other")
	sess, err := h.vault.Setup(ctx, "owner", []byte(testPassword))
	require.NoError(t, err)

	_, _, err = h.vault.CreateItemKey(ctx, "owner", sess.ID, "")
	require.ErrorIs(t, err, common.ErrorValidation)

	k, dek, err := h.vault.CreateItemKey(ctx, "owner", sess.ID, "bank")
	require.NoError(t, err)
	assert.Len(t, dek, 32)
	assert.Equal(t, 1, k.KeyVersion)
	assert.NotContains(t, k.WrappedKey, string(dek))

	_, _, err = h.vault.CreateItemKey(ctx, "owner", sess.ID, "bank")
	require.ErrorIs(t, err, common.ErrorAlreadyExists)

	_, _, err = h.vault.CreateItemKey(ctx, "other", sess.ID, "bank")
	require.ErrorIs(t, err, common.ErrSessionScope)

	_, err = h.vault.ItemKey(ctx, sess.ID, "missing")
	require.ErrorIs(t, err, common.ErrorNotFound)

	// Session expiry wipes the key.
	h.clock.Add(16 * time.Minute)
	_, err = h.vault.ItemKey(ctx, sess.ID, "bank")
	require.ErrorIs(t, err, common.ErrSessionNotFound)
}

func TestVaultService_RotateVMK(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, _ := h.armedOwner(t, "owner")

	deks := map[string][]byte{}
	for _, item := range []string{"a", "b", "c"} {
		_, dek, err := h.vault.CreateItemKey(ctx, "owner", sess.ID, item)
		require.NoError(t, err)
		deks[item] = dek
	}

	_, err := h.vault.RotateVMK(ctx, "owner", sess.ID, []byte("Wrong-password-123"))
	require.ErrorIs(t, err, common.ErrDecryption)

	n, err := h.vault.RotateVMK(ctx, "owner", sess.ID, []byte(testPassword))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// The live session follows the new key.
	for item, dek := range deks {
		got, err := h.vault.ItemKey(ctx, sess.ID, item)
		require.NoError(t, err)
		assert.Equal(t, dek, got)
	}

	o, err := h.store.Owners().Get(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, 2, o.KeyVersion)
	assert.Empty(t, o.EncryptedVMKThreshold, "shares over the old key are void")
	_, ok := h.notes.Last(notify.EventSharesInvalidated, "owner")
	assert.True(t, ok)

	keys, err := h.store.ItemKeys().ListByOwner(ctx, "owner")
	require.NoError(t, err)
	for _, k := range keys {
		assert.Equal(t, 2, k.KeyVersion)
	}

	fresh, err := h.vault.OpenSession(ctx, "owner", []byte(testPassword))
	require.NoError(t, err)
	got, err := h.vault.ItemKey(ctx, fresh.ID, "a")
	require.NoError(t, err)
	assert.Equal(t, deks["a"], got)
}
