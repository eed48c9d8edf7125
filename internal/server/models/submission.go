package models

import "time"

// ShareSubmission is a share a contact handed in for a request, re-sealed
// under the server escrow key until the request resolves.
type ShareSubmission struct {
	RequestID   string
	ContactID   string
	ShareIndex  int
	SealedShare string
	SubmittedAt time.Time
	RevokedAt   *time.Time
}
