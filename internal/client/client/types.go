package client

import "time"

type CheckInRecord struct {
	ID          string     `json:"id"`
	SentAt      time.Time  `json:"sentAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	Missed      bool       `json:"missed"`
}

type CheckInStatus struct {
	Status            string          `json:"status"`
	Enabled           bool            `json:"enabled"`
	LastCheckInAt     time.Time       `json:"lastCheckInAt"`
	NextCheckInAt     time.Time       `json:"nextCheckInAt"`
	GracePeriodEndsAt time.Time       `json:"gracePeriodEndsAt"`
	IntervalDays      int             `json:"checkInIntervalDays"`
	GraceDays         int             `json:"graceDays"`
	MissedCount       int             `json:"missedCount"`
	RecentCheckIns    []CheckInRecord `json:"recentCheckIns"`
	OpenRequest       *UnlockRequest  `json:"openRequest,omitempty"`
}

type CheckInConfig struct {
	Email        string `json:"email"`
	IntervalDays int    `json:"checkInIntervalDays"`
	GraceDays    int    `json:"graceDays"`
	Enabled      *bool  `json:"enabled,omitempty"`
}

type UnlockRequest struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
	GracePeriodEnd    time.Time  `json:"gracePeriodEnd"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	ConfirmationCount int        `json:"confirmationCount"`
	Reason            string     `json:"reason,omitempty"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
}

type Session struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type ItemKey struct {
	ItemID     string `json:"itemId"`
	Key        string `json:"key"`
	KeyVersion int    `json:"keyVersion,omitempty"`
}

type Contact struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	VerificationStatus string `json:"verificationStatus"`
	ShareIndex         int    `json:"shareIndex,omitempty"`
	HoldsShare         bool   `json:"holdsShare"`
}

type Verification struct {
	ContactID string `json:"contactId"`
	OwnerID   string `json:"ownerId"`
	Token     string `json:"token"`
}

type Share struct {
	RequestID  string `json:"requestId,omitempty"`
	Share      string `json:"share"`
	ShareIndex int    `json:"shareIndex"`
}

type ShareReceipt struct {
	RequestID         string `json:"requestId"`
	ConfirmationCount int    `json:"confirmationCount"`
}

type Recipient struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}
