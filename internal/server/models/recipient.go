package models

import "time"

// Recipient is someone the owner designated to read the vault after it
// unlocks.
type Recipient struct {
	ID        string
	OwnerID   string
	Email     string
	CreatedAt time.Time
}

// AccessGrant is the released VMK, wrapped under a key derived from the
// recipient's access token. Only the token hash is stored.
type AccessGrant struct {
	ID          string
	RequestID   string
	OwnerID     string
	RecipientID string
	TokenHash   string
	WrappedVMK  string
	ExpiresAt   time.Time
	CreatedAt   time.Time
}
