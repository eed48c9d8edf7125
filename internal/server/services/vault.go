package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/cryptox"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/legacyvault/internal/server/session"
)

// KEKDeriver runs the memory-hard KDF, normally on a cryptox.KDFPool.
type KEKDeriver interface {
	Derive(ctx context.Context, secret, salt []byte) ([]byte, error)
}

// VaultService owns the key hierarchy of each vault: the password-wrapped
// VMK, the sessions that hold it unwrapped, and the per-item DEKs.
type VaultService struct {
	store    repomanager.Store
	sessions *session.Store
	kdf      KEKDeriver
	shares   *ShareStore
	notifier notify.Dispatcher
	clock    clock.Clock
	logger   logging.Logger
}

func NewVaultService(store repomanager.Store, sessions *session.Store, kdf KEKDeriver, shares *ShareStore,
	notifier notify.Dispatcher, clk clock.Clock, logger logging.Logger) *VaultService {
	return &VaultService{
		store:    store,
		sessions: sessions,
		kdf:      kdf,
		shares:   shares,
		notifier: notifier,
		clock:    clk,
		logger:   logger.With("module", "vault"),
	}
}

// Setup creates the owner's VMK, wraps it under a KEK derived from password
// and opens a session.
func (s *VaultService) Setup(ctx context.Context, ownerID string, password []byte) (SessionInfo, error) {
	if err := cryptox.CheckSecretStrength(password); err != nil {
		return SessionInfo{}, err
	}
	o, err := s.store.Owners().Get(ctx, ownerID)
	if err != nil {
		return SessionInfo{}, err
	}
	if o.VaultInitialized() {
		return SessionInfo{}, common.ErrVaultInitialized
	}

	salt := cryptox.NewSalt()
	kek, err := s.kdf.Derive(ctx, password, salt)
	if err != nil {
		return SessionInfo{}, err
	}
	defer common.WipeByteArray(kek)

	vmk := cryptox.NewKey()
	defer common.WipeByteArray(vmk)

	wrapped, err := cryptox.WrapVMK(vmk, kek)
	if err != nil {
		return SessionInfo{}, err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		o, err := repos.Owners().GetForUpdate(ctx, ownerID)
		if err != nil {
			return err
		}
		if o.VaultInitialized() {
			return common.ErrVaultInitialized
		}
		o.VMKSalt = salt
		o.EncryptedVMK = wrapped.String()
		o.KeyVersion = 1
		o.UpdatedAt = s.clock.Now()
		return repos.Owners().Update(ctx, o)
	})
	if err != nil {
		return SessionInfo{}, err
	}

	s.logger.Info(ctx, "vault initialized", "owner_id", ownerID)
	return s.open(ownerID, session.ScopeOwner, vmk)
}

// OpenSession unwraps the VMK with the owner's password. A wrong password is
// common.ErrDecryption.
func (s *VaultService) OpenSession(ctx context.Context, ownerID string, password []byte) (SessionInfo, error) {
	o, err := s.store.Owners().Get(ctx, ownerID)
	if err != nil {
		return SessionInfo{}, err
	}
	vmk, err := s.unwrapWithPassword(ctx, o, password)
	if err != nil {
		return SessionInfo{}, err
	}
	defer common.WipeByteArray(vmk)

	return s.open(ownerID, session.ScopeOwner, vmk)
}

// CloseSession releases a session of ownerID and wipes its key.
func (s *VaultService) CloseSession(ctx context.Context, ownerID, sessionID string) error {
	if err := s.sessions.WithVMK(sessionID, ownerID, func([]byte) error { return nil }); err != nil {
		return err
	}
	s.sessions.Close(sessionID)
	return nil
}

// CreateItemKey generates a DEK for itemID, stores it wrapped under the VMK
// and returns the plaintext DEK to the caller.
func (s *VaultService) CreateItemKey(ctx context.Context, ownerID, sessionID, itemID string) (*models.ItemKey, []byte, error) {
	if itemID == "" {
		return nil, nil, fmt.Errorf("%w: item id is required", common.ErrorValidation)
	}

	var out *models.ItemKey
	dek := cryptox.NewKey()
	err := s.sessions.WithVMK(sessionID, ownerID, func(vmk []byte) error {
		o, err := s.store.Owners().Get(ctx, ownerID)
		if err != nil {
			return err
		}
		wrapped, err := cryptox.WrapItemKey(dek, vmk)
		if err != nil {
			return err
		}
		k := &models.ItemKey{
			OwnerID:    ownerID,
			ItemID:     itemID,
			WrappedKey: wrapped.String(),
			KeyVersion: o.KeyVersion,
			CreatedAt:  s.clock.Now(),
		}
		created, err := s.store.ItemKeys().Create(ctx, k)
		if err != nil {
			return err
		}
		if !created {
			return common.ErrorAlreadyExists
		}
		out = k
		return nil
	})
	if err != nil {
		common.WipeByteArray(dek)
		return nil, nil, err
	}
	return out, dek, nil
}

// ItemKey unwraps the DEK of itemID. Owner and recipient sessions may read.
func (s *VaultService) ItemKey(ctx context.Context, sessionID, itemID string) ([]byte, error) {
	var dek []byte
	err := s.sessions.WithReadVMK(sessionID, func(ownerID string, vmk []byte) error {
		k, err := s.store.ItemKeys().Get(ctx, ownerID, itemID)
		if err != nil {
			return err
		}
		env, err := cryptox.ParseEnvelope(k.WrappedKey)
		if err != nil {
			return err
		}
		dek, err = cryptox.UnwrapItemKey(env, vmk)
		return err
	})
	if err != nil {
		return nil, err
	}
	return dek, nil
}

// RotateVMK replaces the VMK, re-wraps every DEK and invalidates threshold
// shares, which were built over the old key. The password is required to
// re-wrap the new VMK.
func (s *VaultService) RotateVMK(ctx context.Context, ownerID, sessionID string, password []byte) (int, error) {
	o, err := s.store.Owners().Get(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	if !o.VaultInitialized() {
		return 0, common.ErrVaultNotInitialized
	}
	kek, err := s.deriveKEK(ctx, password, o.VMKSalt)
	if err != nil {
		return 0, err
	}
	defer common.WipeByteArray(kek)

	newVMK := cryptox.NewKey()
	defer common.WipeByteArray(newVMK)

	var rotated int
	err = s.sessions.WithVMK(sessionID, ownerID, func(oldVMK []byte) error {
		return withOwnerTx(ctx, s.store, s.notifier, ownerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
			if err := requireNoOpenRequest(ctx, repos, ownerID); err != nil {
				return nil, err
			}
			env, err := cryptox.ParseEnvelope(o.EncryptedVMK)
			if err != nil {
				return nil, err
			}
			current, err := cryptox.UnwrapVMK(env, kek)
			if err != nil {
				return nil, err
			}
			same := bytes.Equal(current, oldVMK)
			common.WipeByteArray(current)
			if !same {
				return nil, common.ErrSessionScope
			}

			keys, err := repos.ItemKeys().ListByOwner(ctx, ownerID)
			if err != nil {
				return nil, err
			}
			wrapped := make([]string, len(keys))
			for i, k := range keys {
				wrapped[i] = k.WrappedKey
			}
			rewrapped, err := cryptox.RewrapItemKeys(wrapped, oldVMK, newVMK)
			if err != nil {
				return nil, err
			}

			o.KeyVersion++
			for i := range keys {
				keys[i].WrappedKey = rewrapped[i]
				keys[i].KeyVersion = o.KeyVersion
				if err := repos.ItemKeys().Update(ctx, &keys[i]); err != nil {
					return nil, err
				}
			}

			next, err := cryptox.WrapVMK(newVMK, kek)
			if err != nil {
				return nil, err
			}
			o.EncryptedVMK = next.String()
			events, err := s.shares.invalidateInTx(ctx, repos, o, s.clock.Now())
			if err != nil {
				return nil, err
			}
			o.UpdatedAt = s.clock.Now()
			if err := repos.Owners().Update(ctx, o); err != nil {
				return nil, err
			}
			rotated = len(keys)
			return events, nil
		})
	})
	if err != nil {
		return 0, err
	}

	s.sessions.Replace(ownerID, newVMK)
	s.logger.Info(ctx, "vault master key rotated", "owner_id", ownerID, "item_keys", rotated)
	return rotated, nil
}

func (s *VaultService) unwrapWithPassword(ctx context.Context, o *models.Owner, password []byte) ([]byte, error) {
	if !o.VaultInitialized() {
		return nil, common.ErrVaultNotInitialized
	}
	kek, err := s.deriveKEK(ctx, password, o.VMKSalt)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(kek)

	env, err := cryptox.ParseEnvelope(o.EncryptedVMK)
	if err != nil {
		return nil, err
	}
	return cryptox.UnwrapVMK(env, kek)
}

// deriveKEK treats a password that fails the strength policy as a wrong
// password: it cannot be the one the vault was set up with.
func (s *VaultService) deriveKEK(ctx context.Context, password, salt []byte) ([]byte, error) {
	kek, err := s.kdf.Derive(ctx, password, salt)
	if errors.Is(err, common.ErrWeakSecret) {
		return nil, common.ErrDecryption
	}
	return kek, err
}

func (s *VaultService) open(ownerID string, scope session.Scope, vmk []byte) (SessionInfo, error) {
	id, exp, err := s.sessions.Open(ownerID, scope, vmk)
	if err != nil {
		return SessionInfo{}, err
	}
	return SessionInfo{ID: id, ExpiresAt: exp}, nil
}
