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
	"github.com/dmitrijs2005/legacyvault/internal/cryptox"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/legacyvault/internal/server/session"
	"github.com/google/uuid"
)

const grantKeyInfo = "grant"

// RecipientService manages designated recipients and the access grants
// released to them once the vault unlocks.
type RecipientService struct {
	store    repomanager.Store
	sessions *session.Store
	clock    clock.Clock
	logger   logging.Logger
}

func NewRecipientService(store repomanager.Store, sessions *session.Store, clk clock.Clock, logger logging.Logger) *RecipientService {
	return &RecipientService{
		store:    store,
		sessions: sessions,
		clock:    clk,
		logger:   logger.With("module", "recipients"),
	}
}

func (s *RecipientService) Add(ctx context.Context, ownerID, email string) (*models.Recipient, error) {
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid email", common.ErrorValidation)
	}

	var out *models.Recipient
	err = s.store.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		if _, err := repos.Owners().GetForUpdate(ctx, ownerID); err != nil {
			return err
		}
		existing, err := repos.Recipients().ListByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		email := strings.ToLower(addr.Address)
		for _, r := range existing {
			if r.Email == email {
				return common.ErrorAlreadyExists
			}
		}
		r := &models.Recipient{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Email:     email,
			CreatedAt: s.clock.Now(),
		}
		if err := repos.Recipients().Create(ctx, r); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *RecipientService) List(ctx context.Context, ownerID string) ([]models.Recipient, error) {
	if _, err := s.store.Owners().Get(ctx, ownerID); err != nil {
		return nil, err
	}
	return s.store.Recipients().ListByOwner(ctx, ownerID)
}

// Access exchanges a released access token for a read-only session over the
// owner's vault.
func (s *RecipientService) Access(ctx context.Context, token string) (SessionInfo, error) {
	g, err := s.store.Recipients().GetGrantByTokenHash(ctx, common.HashToken(token))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return SessionInfo{}, common.ErrInvalidToken
		}
		return SessionInfo{}, err
	}
	if !s.clock.Now().Before(g.ExpiresAt) {
		return SessionInfo{}, common.ErrTokenExpired
	}

	key, err := cryptox.DeriveSubkey([]byte(token), grantKeyInfo)
	if err != nil {
		return SessionInfo{}, err
	}
	defer common.WipeByteArray(key)

	env, err := cryptox.ParseEnvelope(g.WrappedVMK)
	if err != nil {
		return SessionInfo{}, err
	}
	vmk, err := cryptox.UnwrapVMK(env, key)
	if err != nil {
		return SessionInfo{}, err
	}
	defer common.WipeByteArray(vmk)

	id, exp, err := s.sessions.Open(g.OwnerID, session.ScopeRecipient, vmk)
	if err != nil {
		return SessionInfo{}, err
	}
	s.logger.Info(ctx, "recipient session opened", "owner_id", g.OwnerID, "recipient_id", g.RecipientID)
	return SessionInfo{ID: id, ExpiresAt: exp}, nil
}

// releaseInTx wraps the unlocked VMK once per recipient under a key derived
// from a fresh access token, and mails each token out.
func (s *RecipientService) releaseInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner,
	req *models.UnlockRequest, vmk []byte, now time.Time) ([]notify.Event, error) {
	recipients, err := repos.Recipients().ListByOwner(ctx, o.ID)
	if err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		s.logger.Warn(ctx, "vault unlocked without recipients", "owner_id", o.ID, "request_id", req.ID)
		return nil, nil
	}

	events := make([]notify.Event, 0, len(recipients))
	for _, r := range recipients {
		token, err := common.MakeRandHexString(accessTokenBytes)
		if err != nil {
			return nil, err
		}
		key, err := cryptox.DeriveSubkey([]byte(token), grantKeyInfo)
		if err != nil {
			return nil, err
		}
		wrapped, err := cryptox.WrapVMK(vmk, key)
		common.WipeByteArray(key)
		if err != nil {
			return nil, err
		}

		g := &models.AccessGrant{
			ID:          uuid.NewString(),
			RequestID:   req.ID,
			OwnerID:     o.ID,
			RecipientID: r.ID,
			TokenHash:   common.HashToken(token),
			WrappedVMK:  wrapped.String(),
			ExpiresAt:   now.Add(AccessGrantTTL),
			CreatedAt:   now,
		}
		if err := repos.Recipients().CreateGrant(ctx, g); err != nil {
			return nil, err
		}

		events = append(events, notify.Event{
			Kind:     notify.TargetRecipient,
			TargetID: r.ID,
			Email:    r.Email,
			Type:     notify.EventVaultReleased,
			At:       now,
			Payload: map[string]string{
				"request_id":   req.ID,
				"owner_id":     o.ID,
				"access_token": token,
				"expires_at":   g.ExpiresAt.Format(time.RFC3339),
			},
		})
	}
	return events, nil
}
