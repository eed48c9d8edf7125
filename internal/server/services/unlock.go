package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/cryptox"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/legacyvault/internal/threshold"
	"github.com/google/uuid"
)

// UnlockMachine drives unlock requests through
// grace_period -> pending_confirmation -> unlocked, or to cancelled/expired.
// Every transition runs inside a transaction holding the owner's row lock,
// and status changes are compare-and-swap updates, so concurrent callers
// see exactly one winner.
type UnlockMachine struct {
	store      repomanager.Store
	shares     *ShareStore
	recipients *RecipientService
	notifier   notify.Dispatcher
	tokens     ContactTokenIssuer
	clock      clock.Clock
	logger     logging.Logger
	policy     Policy
}

func NewUnlockMachine(store repomanager.Store, shares *ShareStore, recipients *RecipientService,
	notifier notify.Dispatcher, tokens ContactTokenIssuer, clk clock.Clock, logger logging.Logger, policy Policy) *UnlockMachine {
	return &UnlockMachine{
		store:      store,
		shares:     shares,
		recipients: recipients,
		notifier:   notifier,
		tokens:     tokens,
		clock:      clk,
		logger:     logger.With("module", "unlock"),
		policy:     policy,
	}
}

// List returns the owner's requests, newest first.
func (m *UnlockMachine) List(ctx context.Context, ownerID string) ([]models.UnlockRequest, error) {
	if _, err := m.store.Owners().Get(ctx, ownerID); err != nil {
		return nil, err
	}
	return m.store.UnlockRequests().ListByOwner(ctx, ownerID)
}

// Open starts an escalation for an owner whose grace period has lapsed.
func (m *UnlockMachine) Open(ctx context.Context, ownerID string) (*models.UnlockRequest, error) {
	var req *models.UnlockRequest
	err := withOwnerTx(ctx, m.store, m.notifier, ownerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
		var events []notify.Event
		var err error
		req, events, err = m.openInTx(ctx, repos, o, m.clock.Now())
		return events, err
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (m *UnlockMachine) openInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner, now time.Time) (*models.UnlockRequest, []notify.Event, error) {
	lv := Evaluate(o, now)
	if lv.State != StateGraceExpired {
		return nil, nil, common.ErrInvalidTransition
	}

	if _, err := repos.UnlockRequests().GetOpenByOwner(ctx, o.ID); err == nil {
		return nil, nil, common.ErrAlreadyOpen
	} else if !errors.Is(err, common.ErrorNotFound) {
		return nil, nil, err
	}

	req := &models.UnlockRequest{
		ID:                  uuid.NewString(),
		OwnerID:             o.ID,
		Status:              models.UnlockGracePeriod,
		CreatedAt:           now,
		GracePeriodEnd:      lv.GraceEndsAt,
		ExpiresAt:           lv.GraceEndsAt.Add(m.policy.ConfirmationTimeout),
		ConfirmedContactIDs: []string{},
	}
	if err := repos.UnlockRequests().Create(ctx, req); err != nil {
		return nil, nil, err
	}

	// Re-read liveness in the same transaction before engaging contacts: a
	// check-in that landed first turns the request into a cancellation.
	fresh, err := repos.Owners().Get(ctx, o.ID)
	if err != nil {
		return nil, nil, err
	}
	if Evaluate(fresh, now).State != StateGraceExpired {
		if _, err := repos.UnlockRequests().Transition(ctx, req.ID, []models.UnlockStatus{models.UnlockGracePeriod},
			models.UnlockCancelled, "owner checked in", &now); err != nil {
			return nil, nil, err
		}
		req.Status = models.UnlockCancelled
		return req, nil, nil
	}

	ok, err := repos.UnlockRequests().Transition(ctx, req.ID, []models.UnlockStatus{models.UnlockGracePeriod},
		models.UnlockPendingConfirmation, "", nil)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, common.ErrInvalidTransition
	}
	req.Status = models.UnlockPendingConfirmation

	holders, err := shareHolders(ctx, repos, o.ID)
	if err != nil {
		return nil, nil, err
	}

	events := make([]notify.Event, 0, len(holders)+2)
	for i := range holders {
		c := &holders[i]
		token, err := m.tokens.ContactToken(o.ID, c.ID, m.policy.ContactTokenValidity)
		if err != nil {
			return nil, nil, fmt.Errorf("contact token: %w", err)
		}
		events = append(events, contactEvent(c, notify.EventUnlockRequested, now, map[string]string{
			"request_id":  req.ID,
			"owner_id":    o.ID,
			"share_index": strconv.Itoa(c.ShareIndex),
			"token":       token,
			"expires_at":  req.ExpiresAt.Format(time.RFC3339),
		}))
	}
	events = append(events, ownerEvent(o, notify.EventUnlockOpened, now, map[string]string{
		"request_id":       req.ID,
		"grace_period_end": req.GracePeriodEnd.Format(time.RFC3339),
		"expires_at":       req.ExpiresAt.Format(time.RFC3339),
	}))
	if len(holders) < threshold.Parts {
		m.logger.Warn(ctx, "unlock request opened without a full contact quorum", "owner_id", o.ID, "share_holders", len(holders))
		events = append(events, ownerEvent(o, notify.EventInsufficientContacts, now, map[string]string{
			"request_id":    req.ID,
			"share_holders": strconv.Itoa(len(holders)),
		}))
	}

	m.logger.Info(ctx, "unlock request opened", "owner_id", o.ID, "request_id", req.ID, "share_holders", len(holders))
	return req, events, nil
}

// Confirm hands a contact's share key to the share store. When the count
// reaches the threshold the request flips to unlocked exactly once, the VMK
// is reconstructed and released to the recipients.
func (m *UnlockMachine) Confirm(ctx context.Context, requestID, contactID string, shareKey []byte, shareIndex int) (int, error) {
	first, err := m.store.UnlockRequests().Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return 0, common.ErrShareRejected
		}
		return 0, err
	}

	var count int
	err = withOwnerTx(ctx, m.store, m.notifier, first.OwnerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
		now := m.clock.Now()

		req, err := repos.UnlockRequests().Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status.Terminal() {
			return nil, common.ErrRequestClosed
		}
		if req.Status != models.UnlockPendingConfirmation {
			return nil, common.ErrShareRejected
		}
		// Past the window the request is as good as expired, even if the
		// watchdog has not run yet.
		if !now.Before(req.ExpiresAt) {
			return nil, common.ErrRequestClosed
		}

		count, err = m.shares.submitInTx(ctx, repos, o, req, contactID, shareKey, shareIndex, now)
		if err != nil {
			return nil, err
		}
		if count < threshold.Threshold {
			return nil, nil
		}
		return m.unlockInTx(ctx, repos, o, req, now)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// ConfirmOpen is Confirm against the owner's currently open request, for
// contacts that were not told the request id. No open request reads as a
// closed one.
func (m *UnlockMachine) ConfirmOpen(ctx context.Context, ownerID, contactID string, shareKey []byte, shareIndex int) (string, int, error) {
	req, err := m.store.UnlockRequests().GetOpenByOwner(ctx, ownerID)
	if errors.Is(err, common.ErrorNotFound) {
		return "", 0, common.ErrRequestClosed
	}
	if err != nil {
		return "", 0, err
	}
	count, err := m.Confirm(ctx, req.ID, contactID, shareKey, shareIndex)
	return req.ID, count, err
}

// unlockInTx reconstructs the VMK and flips the request to unlocked. While
// fewer than threshold.Threshold escrowed shares can be opened, for example
// after the escrow key changed, the request stays pending and the
// confirmation is kept.
func (m *UnlockMachine) unlockInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner, req *models.UnlockRequest, now time.Time) ([]notify.Event, error) {
	recoveryKey, err := m.shares.reconstructInTx(ctx, repos, req)
	if errors.Is(err, common.ErrInsufficientShares) {
		m.logger.Warn(ctx, "confirmations reached threshold but usable shares did not", "request_id", req.ID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(recoveryKey)

	ok, err := repos.UnlockRequests().Transition(ctx, req.ID, []models.UnlockStatus{models.UnlockPendingConfirmation},
		models.UnlockUnlocked, "quorum reached", &now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Another confirmation already performed the transition.
		return nil, nil
	}

	env, err := cryptox.ParseEnvelope(o.EncryptedVMKThreshold)
	if err != nil {
		return nil, err
	}
	vmk, err := cryptox.UnwrapVMK(env, recoveryKey)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(vmk)

	events, err := m.recipients.releaseInTx(ctx, repos, o, req, vmk, now)
	if err != nil {
		return nil, err
	}
	if err := m.shares.revokeInTx(ctx, repos, req.ID, now); err != nil {
		return nil, err
	}

	holders, err := shareHolders(ctx, repos, o.ID)
	if err != nil {
		return nil, err
	}
	payload := map[string]string{"request_id": req.ID, "owner_id": o.ID}
	for i := range holders {
		events = append(events, contactEvent(&holders[i], notify.EventVaultUnlocked, now, payload))
	}
	events = append(events, ownerEvent(o, notify.EventVaultUnlocked, now, payload))

	m.logger.Info(ctx, "vault unlocked", "owner_id", o.ID, "request_id", req.ID)
	return events, nil
}

// Cancel is the owner aborting an escalation. It also counts as a check-in.
func (m *UnlockMachine) Cancel(ctx context.Context, ownerID, requestID, reason string) (*models.UnlockRequest, error) {
	if reason == "" {
		reason = "cancelled by owner"
	}
	err := withOwnerTx(ctx, m.store, m.notifier, ownerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
		now := m.clock.Now()

		req, err := repos.UnlockRequests().Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.OwnerID != ownerID {
			return nil, common.ErrorNotFound
		}
		if req.Status.Terminal() {
			return nil, common.ErrInvalidTransition
		}

		events, err := m.cancelInTx(ctx, repos, o, req, reason, now)
		if err != nil {
			return nil, err
		}
		return events, recordCheckIn(ctx, repos, o, now)
	})
	if err != nil {
		return nil, err
	}
	return m.store.UnlockRequests().Get(ctx, requestID)
}

// cancelOpenInTx cancels the owner's open request, if any.
func (m *UnlockMachine) cancelOpenInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner, reason string, now time.Time) ([]notify.Event, error) {
	req, err := repos.UnlockRequests().GetOpenByOwner(ctx, o.ID)
	if errors.Is(err, common.ErrorNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m.cancelInTx(ctx, repos, o, req, reason, now)
}

func (m *UnlockMachine) cancelInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner, req *models.UnlockRequest, reason string, now time.Time) ([]notify.Event, error) {
	ok, err := repos.UnlockRequests().Transition(ctx, req.ID, models.OpenStatuses, models.UnlockCancelled, reason, &now)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, common.ErrInvalidTransition
	}
	if err := m.shares.revokeInTx(ctx, repos, req.ID, now); err != nil {
		return nil, err
	}

	payload := map[string]string{"request_id": req.ID, "reason": reason}
	events := []notify.Event{ownerEvent(o, notify.EventUnlockCancelled, now, payload)}
	if req.Status == models.UnlockPendingConfirmation {
		holders, err := shareHolders(ctx, repos, o.ID)
		if err != nil {
			return nil, err
		}
		for i := range holders {
			events = append(events, contactEvent(&holders[i], notify.EventUnlockCancelled, now, map[string]string{"request_id": req.ID}))
		}
	}

	m.logger.Info(ctx, "unlock request cancelled", "owner_id", o.ID, "request_id", req.ID, "reason", reason)
	return events, nil
}

// Expire closes a pending request whose confirmation window has elapsed.
func (m *UnlockMachine) Expire(ctx context.Context, requestID string) error {
	first, err := m.store.UnlockRequests().Get(ctx, requestID)
	if err != nil {
		return err
	}

	return withOwnerTx(ctx, m.store, m.notifier, first.OwnerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
		now := m.clock.Now()

		req, err := repos.UnlockRequests().Get(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if req.Status != models.UnlockPendingConfirmation || now.Before(req.ExpiresAt) {
			return nil, common.ErrInvalidTransition
		}

		ok, err := repos.UnlockRequests().Transition(ctx, req.ID, []models.UnlockStatus{models.UnlockPendingConfirmation},
			models.UnlockExpired, "confirmation window elapsed", &now)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, common.ErrInvalidTransition
		}
		if err := m.shares.revokeInTx(ctx, repos, req.ID, now); err != nil {
			return nil, err
		}

		contacts, err := repos.Contacts().ListByOwner(ctx, o.ID)
		if err != nil {
			return nil, err
		}
		payload := map[string]string{"request_id": req.ID, "confirmations": strconv.Itoa(req.ConfirmationCount)}
		events := []notify.Event{ownerEvent(o, notify.EventUnlockExpired, now, payload)}
		for i := range contacts {
			events = append(events, contactEvent(&contacts[i], notify.EventUnlockExpired, now, map[string]string{"request_id": req.ID}))
		}

		m.logger.Info(ctx, "unlock request expired", "owner_id", o.ID, "request_id", req.ID, "confirmations", req.ConfirmationCount)
		return events, nil
	})
}

// ExpireOverdue is the watchdog: it expires every pending request past its
// window and returns how many it expired.
func (m *UnlockMachine) ExpireOverdue(ctx context.Context) (int, error) {
	due, err := m.store.UnlockRequests().ListExpirable(ctx, m.clock.Now())
	if err != nil {
		return 0, err
	}

	n := 0
	for _, req := range due {
		if err := m.Expire(ctx, req.ID); err != nil {
			if errors.Is(err, common.ErrInvalidTransition) {
				continue
			}
			m.logger.Error(ctx, "expire failed", "request_id", req.ID, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func shareHolders(ctx context.Context, repos repomanager.Repositories, ownerID string) ([]models.TrustedContact, error) {
	contacts, err := repos.Contacts().ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	holders := contacts[:0]
	for _, c := range contacts {
		if c.HoldsShare() {
			holders = append(holders, c)
		}
	}
	return holders, nil
}
