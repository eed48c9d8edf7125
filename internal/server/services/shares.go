package services

import (
	"context"
	"encoding/base64"
	"errors"
	"strconv"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/cryptox"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/legacyvault/internal/threshold"
)

// ShareStore is the stateful side of the threshold scheme.
//
// The VMK is wrapped under a random recovery key, and the recovery key is
// split 2-of-3. Each contact's share is stored sealed under a key only that
// contact receives, so the database alone never yields a share. When a
// contact confirms an unlock request they hand their key in; the opened
// share is immediately re-sealed under the server escrow key and kept with
// the request until it resolves.
type ShareStore struct {
	escrowKey []byte
	logger    logging.Logger
}

func NewShareStore(escrowKey []byte, logger logging.Logger) *ShareStore {
	return &ShareStore{escrowKey: append([]byte(nil), escrowKey...), logger: logger.With("module", "shares")}
}

// EncodeShareKey is the text form of a contact share key.
func EncodeShareKey(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// DecodeShareKey parses EncodeShareKey output. Malformed input is a rejected
// share.
func DecodeShareKey(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil || len(key) != cryptox.KeySize {
		return nil, common.ErrShareRejected
	}
	return key, nil
}

// issueInTx replaces the owner's shares. It needs the plaintext VMK and
// exactly MaxContacts verified contacts.
func (s *ShareStore) issueInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner, vmk []byte, now time.Time) ([]notify.Event, error) {
	if _, err := repos.UnlockRequests().GetOpenByOwner(ctx, o.ID); err == nil {
		return nil, common.ErrContactsLocked
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, err
	}

	contacts, err := repos.Contacts().ListByOwner(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	verified := make([]models.TrustedContact, 0, len(contacts))
	for _, c := range contacts {
		if c.VerificationStatus == models.VerificationVerified {
			verified = append(verified, c)
		}
	}
	if len(verified) != threshold.Parts {
		return nil, common.ErrContactsNotReady
	}

	recoveryKey := cryptox.NewKey()
	defer common.WipeByteArray(recoveryKey)

	wrapped, err := cryptox.WrapVMK(vmk, recoveryKey)
	if err != nil {
		return nil, err
	}
	parts, err := IssueShares(recoveryKey, threshold.Parts, threshold.Threshold)
	if err != nil {
		return nil, err
	}
	defer threshold.Wipe(parts)

	// Old indexes must be released before reassigning them.
	if err := repos.Contacts().ClearShares(ctx, o.ID); err != nil {
		return nil, err
	}

	events := make([]notify.Event, 0, len(verified))
	for i := range verified {
		c := &verified[i]
		part := parts[i]

		contactKey := cryptox.NewKey()
		sealed, err := threshold.Seal(part, contactKey, threshold.BindingAAD(o.ID, c.ID, part.Index), cryptox.PurposeShare)
		if err != nil {
			common.WipeByteArray(contactKey)
			return nil, err
		}
		c.ShareIndex = part.Index
		c.EncryptedShare = sealed
		if err := repos.Contacts().Update(ctx, c); err != nil {
			common.WipeByteArray(contactKey)
			return nil, err
		}

		events = append(events, contactEvent(c, notify.EventShareIssued, now, map[string]string{
			"owner_id":    o.ID,
			"contact_id":  c.ID,
			"share_index": strconv.Itoa(part.Index),
			"share_key":   EncodeShareKey(contactKey),
		}))
		common.WipeByteArray(contactKey)
	}

	o.EncryptedVMKThreshold = wrapped.String()
	o.UpdatedAt = now
	if err := repos.Owners().Update(ctx, o); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "threshold shares issued", "owner_id", o.ID, "parts", threshold.Parts, "threshold", threshold.Threshold)
	return events, nil
}

// invalidateInTx drops every issued share and the threshold-wrapped VMK.
func (s *ShareStore) invalidateInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner, now time.Time) ([]notify.Event, error) {
	if o.EncryptedVMKThreshold == "" {
		return nil, nil
	}

	holders, err := shareHolders(ctx, repos, o.ID)
	if err != nil {
		return nil, err
	}
	if err := repos.Contacts().ClearShares(ctx, o.ID); err != nil {
		return nil, err
	}
	o.EncryptedVMKThreshold = ""
	o.UpdatedAt = now
	if err := repos.Owners().Update(ctx, o); err != nil {
		return nil, err
	}

	events := []notify.Event{ownerEvent(o, notify.EventSharesInvalidated, now, nil)}
	for i := range holders {
		events = append(events, contactEvent(&holders[i], notify.EventSharesInvalidated, now, map[string]string{"owner_id": o.ID}))
	}
	s.logger.Info(ctx, "threshold shares invalidated", "owner_id", o.ID)
	return events, nil
}

// submitInTx validates a contact's share key against the stored sealed
// share, escrows the share and counts the confirmation. A repeated
// submission by the same contact does not change the count. Every way a
// share can be wrong yields common.ErrShareRejected.
func (s *ShareStore) submitInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner, req *models.UnlockRequest,
	contactID string, shareKey []byte, shareIndex int, now time.Time) (int, error) {
	c, err := repos.Contacts().Get(ctx, contactID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return 0, common.ErrShareRejected
		}
		return 0, err
	}
	if c.OwnerID != req.OwnerID || !c.HoldsShare() || c.ShareIndex != shareIndex {
		return 0, common.ErrShareRejected
	}

	share, err := threshold.Open(c.EncryptedShare, c.ShareIndex, shareKey, threshold.BindingAAD(o.ID, c.ID, c.ShareIndex), cryptox.PurposeShare)
	if err != nil {
		return 0, common.ErrShareRejected
	}
	escrowed, err := threshold.Seal(share, s.escrowKey, threshold.BindingAAD(req.ID, c.ID, c.ShareIndex), cryptox.PurposeEscrow)
	common.WipeByteArray(share.Data)
	if err != nil {
		return 0, err
	}

	added, err := repos.Submissions().Add(ctx, &models.ShareSubmission{
		RequestID:   req.ID,
		ContactID:   c.ID,
		ShareIndex:  c.ShareIndex,
		SealedShare: escrowed,
		SubmittedAt: now,
	})
	if err != nil {
		return 0, err
	}

	count, _, err := repos.UnlockRequests().AddConfirmation(ctx, req.ID, c.ID)
	if err != nil {
		return 0, err
	}

	if added {
		s.logger.Info(ctx, "share accepted", "request_id", req.ID, "confirmations", count)
	} else {
		s.logger.Debug(ctx, "repeated share ignored", "request_id", req.ID)
	}
	return count, nil
}

// reconstructInTx opens the escrowed shares of a request and combines them
// into the recovery key. Shares sealed under a different escrow key are
// skipped, so it fails with common.ErrInsufficientShares only when fewer
// than threshold.Threshold usable shares remain.
func (s *ShareStore) reconstructInTx(ctx context.Context, repos repomanager.Repositories, req *models.UnlockRequest) ([]byte, error) {
	subs, err := repos.Submissions().ListActive(ctx, req.ID)
	if err != nil {
		return nil, err
	}

	shares := make([]threshold.Share, 0, len(subs))
	defer func() { threshold.Wipe(shares) }()

	for _, sub := range subs {
		share, err := threshold.Open(sub.SealedShare, sub.ShareIndex, s.escrowKey,
			threshold.BindingAAD(req.ID, sub.ContactID, sub.ShareIndex), cryptox.PurposeEscrow)
		if err != nil {
			s.logger.Warn(ctx, "escrowed share unreadable, skipping", "request_id", req.ID, "contact_id", sub.ContactID, "error", err)
			continue
		}
		shares = append(shares, share)
	}
	return Reconstruct(shares)
}

// revokeInTx erases the escrowed shares of a request.
func (s *ShareStore) revokeInTx(ctx context.Context, repos repomanager.Repositories, requestID string, now time.Time) error {
	return repos.Submissions().Revoke(ctx, requestID, now)
}

// IssueShares splits secret into n shares with threshold k.
func IssueShares(secret []byte, n, k int) ([]threshold.Share, error) {
	return threshold.Split(secret, n, k)
}

// Reconstruct combines at least threshold.Threshold distinct shares.
func Reconstruct(shares []threshold.Share) ([]byte, error) {
	return threshold.Combine(shares, threshold.Threshold)
}
