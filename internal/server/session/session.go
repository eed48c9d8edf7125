// Package session keeps unlocked vault master keys in memory for a bounded
// time after the owner proves knowledge of their master secret.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/legacyvault/internal/common"
)

const idSize = 32

// Scope limits what a session may do. Recipient sessions can only read item
// keys.
type Scope string

const (
	ScopeOwner     Scope = "owner"
	ScopeRecipient Scope = "recipient"
)

type entry struct {
	ownerID   string
	scope     Scope
	vmk       []byte
	expiresAt time.Time
}

// Store maps opaque session IDs to VMKs. Keys never leave the store except
// as short-lived copies handed to WithVMK callbacks.
type Store struct {
	mu       sync.Mutex
	clock    clock.Clock
	ttl      time.Duration
	sessions map[string]*entry
}

func NewStore(ttl time.Duration, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.New()
	}
	return &Store{clock: clk, ttl: ttl, sessions: map[string]*entry{}}
}

// Open stores a copy of vmk and returns the new session ID.
func (s *Store) Open(ownerID string, scope Scope, vmk []byte) (string, time.Time, error) {
	id, err := common.MakeRandHexString(idSize)
	if err != nil {
		return "", time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{ownerID: ownerID, scope: scope, vmk: append([]byte(nil), vmk...), expiresAt: s.clock.Now().Add(s.ttl)}
	s.sessions[id] = e
	return id, e.expiresAt, nil
}

// WithVMK runs fn with a copy of the session's VMK and wipes the copy when fn
// returns. The session must be an owner session of ownerID.
func (s *Store) WithVMK(id, ownerID string, fn func(vmk []byte) error) error {
	owner, scope, vmk, err := s.copyVMK(id)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(vmk)
	if owner != ownerID || scope != ScopeOwner {
		return common.ErrSessionScope
	}
	return fn(vmk)
}

// WithReadVMK is WithVMK for read paths open to any scope. fn also gets the
// owner the session belongs to.
func (s *Store) WithReadVMK(id string, fn func(ownerID string, vmk []byte) error) error {
	owner, _, vmk, err := s.copyVMK(id)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(vmk)
	return fn(owner, vmk)
}

func (s *Store) copyVMK(id string) (string, Scope, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sessions[id]
	if !ok {
		return "", "", nil, common.ErrSessionNotFound
	}
	if !s.clock.Now().Before(e.expiresAt) {
		s.dropLocked(id)
		return "", "", nil, common.ErrSessionNotFound
	}
	return e.ownerID, e.scope, append([]byte(nil), e.vmk...), nil
}

// Replace swaps the key held by every session of ownerID, used after
// rotation. Recipient sessions hold a released key and are closed instead.
func (s *Store) Replace(ownerID string, vmk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.sessions {
		if e.ownerID != ownerID {
			continue
		}
		if e.scope != ScopeOwner {
			s.dropLocked(id)
			continue
		}
		common.WipeByteArray(e.vmk)
		e.vmk = append([]byte(nil), vmk...)
	}
}

func (s *Store) Close(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(id)
}

// CloseOwner ends every session of ownerID.
func (s *Store) CloseOwner(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.sessions {
		if e.ownerID == ownerID {
			s.dropLocked(id)
		}
	}
}

// Sweep drops expired sessions and returns how many were removed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	n := 0
	for id, e := range s.sessions {
		if !now.Before(e.expiresAt) {
			s.dropLocked(id)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done, then wipes all sessions.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	t := s.clock.Ticker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-t.C:
			s.Sweep()
		}
	}
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.sessions {
		s.dropLocked(id)
	}
}

func (s *Store) dropLocked(id string) {
	if e, ok := s.sessions[id]; ok {
		common.WipeByteArray(e.vmk)
		delete(s.sessions, id)
	}
}
