package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/legacyvault/internal/server/session"
	"github.com/google/uuid"
)

// ContactService manages the owner's trusted contacts. The contact list is
// frozen while an unlock request is open.
type ContactService struct {
	store    repomanager.Store
	shares   *ShareStore
	sessions *session.Store
	notifier notify.Dispatcher
	tokens   ContactTokenIssuer
	clock    clock.Clock
	logger   logging.Logger
}

func NewContactService(store repomanager.Store, shares *ShareStore, sessions *session.Store, notifier notify.Dispatcher,
	tokens ContactTokenIssuer, clk clock.Clock, logger logging.Logger) *ContactService {
	return &ContactService{
		store:    store,
		shares:   shares,
		sessions: sessions,
		notifier: notifier,
		tokens:   tokens,
		clock:    clk,
		logger:   logger.With("module", "contacts"),
	}
}

func (s *ContactService) List(ctx context.Context, ownerID string) ([]models.TrustedContact, error) {
	if _, err := s.store.Owners().Get(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.store.Contacts().ListByOwner(ctx, ownerID)
}

// Add registers a contact and mails them a verification token.
func (s *ContactService) Add(ctx context.Context, ownerID, email string) (*models.TrustedContact, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid email", common.ErrorValidation)
	}
	email = strings.ToLower(addr.Address)

	var out *models.TrustedContact
	err = withOwnerTx(ctx, s.store, s.notifier, ownerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
		if err := requireNoOpenRequest(ctx, repos, ownerID); err != nil {
			return nil, err
		}

		existing, err := repos.Contacts().ListByOwner(ctx, ownerID)
		if err != nil {
			return nil, err
		}
		if len(existing) >= MaxContacts {
			return nil, common.ErrContactLimit
		}
		for _, c := range existing {
			if c.Email == email {
				return nil, common.ErrorAlreadyExists
			}
		}

		token, err := common.MakeRandHexString(verificationTokenBytes)
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		c := &models.TrustedContact{
			ID:                    uuid.NewString(),
			OwnerID:               ownerID,
			Email:                 email,
			VerificationStatus:    models.VerificationPending,
			VerificationTokenHash: common.HashToken(token),
			VerificationExpiresAt: now.Add(VerificationTokenTTL),
			CreatedAt:             now,
		}
		if err := repos.Contacts().Create(ctx, c); err != nil {
			return nil, err
		}
		out = c

		s.logger.Info(ctx, "trusted contact added", "owner_id", ownerID, "contact_id", c.ID)
		return []notify.Event{contactEvent(c, notify.EventContactVerification, now, map[string]string{
			"owner_id":   ownerID,
			"owner":      o.Email,
			"token":      token,
			"expires_at": c.VerificationExpiresAt.Format(time.RFC3339),
		})}, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Verify consumes a verification token and returns the contact together
// with a contact bearer token. An expired token marks the contact expired.
// A token is good for one verification; replaying it fails with
// common.ErrInvalidToken.
func (s *ContactService) Verify(ctx context.Context, token string) (*models.TrustedContact, string, error) {
	c, err := s.store.Contacts().GetByTokenHash(ctx, common.HashToken(token))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, "", common.ErrInvalidToken
		}
		return nil, "", err
	}

	var verifyErr error
	err = withOwnerTx(ctx, s.store, s.notifier, c.OwnerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
		fresh, err := repos.Contacts().Get(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c = fresh

		switch c.VerificationStatus {
		case models.VerificationVerified:
			verifyErr = common.ErrInvalidToken
			return nil, nil
		case models.VerificationExpired:
			verifyErr = common.ErrTokenExpired
			return nil, nil
		}

		now := s.clock.Now()
		if !now.Before(c.VerificationExpiresAt) {
			c.VerificationStatus = models.VerificationExpired
			verifyErr = common.ErrTokenExpired
		} else {
			c.VerificationStatus = models.VerificationVerified
		}
		return nil, repos.Contacts().Update(ctx, c)
	})
	if err != nil {
		return nil, "", err
	}
	if verifyErr != nil {
		return nil, "", verifyErr
	}

	bearer, err := s.tokens.ContactToken(c.OwnerID, c.ID, 0)
	if err != nil {
		return nil, "", err
	}
	s.logger.Info(ctx, "trusted contact verified", "owner_id", c.OwnerID, "contact_id", c.ID)
	return c, bearer, nil
}

// Remove deletes a contact. Removing a share holder invalidates every
// issued share, since the remaining two alone would still reach quorum.
func (s *ContactService) Remove(ctx context.Context, ownerID, contactID string) error {
	return withOwnerTx(ctx, s.store, s.notifier, ownerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
		if err := requireNoOpenRequest(ctx, repos, ownerID); err != nil {
			return nil, err
		}

		c, err := repos.Contacts().Get(ctx, contactID)
		if err != nil {
			return nil, err
		}
		if c.OwnerID != ownerID {
			return nil, common.ErrorNotFound
		}

		now := s.clock.Now()
		var events []notify.Event
		if c.ShareIndex > 0 {
			events, err = s.shares.invalidateInTx(ctx, repos, o, now)
			if err != nil {
				return nil, err
			}
		}
		if err := repos.Contacts().Delete(ctx, contactID); err != nil {
			return nil, err
		}

		s.logger.Info(ctx, "trusted contact removed", "owner_id", ownerID, "contact_id", contactID)
		return events, nil
	})
}

// IssueShares (re)issues threshold shares to the three verified contacts.
// It needs an open owner session for the plaintext VMK.
func (s *ContactService) IssueShares(ctx context.Context, ownerID, sessionID string) ([]models.TrustedContact, error) {
	err := s.sessions.WithVMK(sessionID, ownerID, func(vmk []byte) error {
		return withOwnerTx(ctx, s.store, s.notifier, ownerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
			if !o.VaultInitialized() {
				return nil, common.ErrVaultNotInitialized
			}
			return s.shares.issueInTx(ctx, repos, o, vmk, s.clock.Now())
		})
	})
	if err != nil {
		return nil, err
	}
	return s.store.Contacts().ListByOwner(ctx, ownerID)
}

func requireNoOpenRequest(ctx context.Context, repos repomanager.Repositories, ownerID string) error {
	_, err := repos.UnlockRequests().GetOpenByOwner(ctx, ownerID)
	if err == nil {
		return common.ErrContactsLocked
	}
	if errors.Is(err, common.ErrorNotFound) {
		return nil
	}
	return err
}
