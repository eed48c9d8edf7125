package models

import "time"

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationExpired  VerificationStatus = "expired"
)

// TrustedContact holds one threshold share. EncryptedShare is sealed under a
// key only the contact has; ShareIndex is zero until shares are issued.
type TrustedContact struct {
	ID                    string
	OwnerID               string
	Email                 string
	VerificationStatus    VerificationStatus
	VerificationTokenHash string
	VerificationExpiresAt time.Time
	ShareIndex            int
	EncryptedShare        string
	CreatedAt             time.Time
}

// HoldsShare reports whether the contact is verified and has a share.
func (c *TrustedContact) HoldsShare() bool {
	return c.VerificationStatus == VerificationVerified && c.ShareIndex > 0 && c.EncryptedShare != ""
}
