package services

import (
	"context"
	"testing"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecipientService_Add(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.newOwner(t, "owner")

	_, err := h.recipients.Add(ctx, "owner", "nope")
	require.ErrorIs(t, err, common.ErrorValidation)

	_, err = h.recipients.Add(ctx, "ghost", "heir@example.com")
	require.ErrorIs(t, err, common.ErrorNotFound)

	r, err := h.recipients.Add(ctx, "owner", "Heir@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "heir@example.com", r.Email)

	_, err = h.recipients.Add(ctx, "owner", "heir@example.com")
	require.ErrorIs(t, err, common.ErrorAlreadyExists)

	list, err := h.recipients.List(ctx, "owner")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecipientService_Access(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess, holders := h.armedOwner(t, "owner")
	_, _, err := h.vault.CreateItemKey(ctx, "owner", sess.ID, "will")
	require.NoError(t, err)
	for _, e := range []string{"one@example.com", "two@example.com"} {
		_, err := h.recipients.Add(ctx, "owner", e)
		require.NoError(t, err)
	}

	req := h.openRequest(t, "owner")
	for _, c := range holders[:2] {
		_, err := h.unlock.Confirm(ctx, req.ID, c.ID, c.Key, c.Index)
		require.NoError(t, err)
	}

	released := h.notes.ByType(notify.EventVaultReleased)
	require.Len(t, released, 2)
	assert.NotEqual(t, released[0].Payload["access_token"], released[1].Payload["access_token"])

	_, err = h.recipients.Access(ctx, "not-a-token")
	require.ErrorIs(t, err, common.ErrInvalidToken)

	rs, err := h.recipients.Access(ctx, released[0].Payload["access_token"])
	require.NoError(t, err)

	_, err = h.vault.ItemKey(ctx, rs.ID, "will")
	require.NoError(t, err)

	// Recipients read; they never write.
	_, _, err = h.vault.CreateItemKey(ctx, "owner", rs.ID, "forged")
	require.ErrorIs(t, err, common.ErrSessionScope)

	h.clock.Add(AccessGrantTTL)
	_, err = h.recipients.Access(ctx, released[1].Payload["access_token"])
	require.ErrorIs(t, err, common.ErrTokenExpired)
}
