package models

import (
	"slices"
	"time"
)

type UnlockStatus string

const (
	UnlockGracePeriod         UnlockStatus = "grace_period"
	UnlockPendingConfirmation UnlockStatus = "pending_confirmation"
	UnlockUnlocked            UnlockStatus = "unlocked"
	UnlockCancelled           UnlockStatus = "cancelled"
	UnlockExpired             UnlockStatus = "expired"
)

// OpenStatuses are the non-terminal statuses. At most one request per owner
// may be in one of them.
var OpenStatuses = []UnlockStatus{UnlockGracePeriod, UnlockPendingConfirmation}

// Terminal reports whether no further transition is allowed.
func (s UnlockStatus) Terminal() bool {
	return !slices.Contains(OpenStatuses, s)
}

// UnlockRequest is one escalation episode.
type UnlockRequest struct {
	ID                  string
	OwnerID             string
	Status              UnlockStatus
	CreatedAt           time.Time
	GracePeriodEnd      time.Time
	ExpiresAt           time.Time
	ConfirmationCount   int
	ConfirmedContactIDs []string
	Reason              string
	ResolvedAt          *time.Time
}

// Clone returns a copy that shares no mutable memory with r.
func (r UnlockRequest) Clone() UnlockRequest {
	c := r
	c.ConfirmedContactIDs = append([]string{}, r.ConfirmedContactIDs...)
	if r.ResolvedAt != nil {
		t := *r.ResolvedAt
		c.ResolvedAt = &t
	}
	return c
}
