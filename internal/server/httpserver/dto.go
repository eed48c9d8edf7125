package httpserver

import (
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/services"
)

type checkInConfigRequest struct {
	Email        string `json:"email"`
	IntervalDays int    `json:"checkInIntervalDays"`
	GraceDays    int    `json:"graceDays"`
	Enabled      *bool  `json:"enabled,omitempty"`
}

type checkInRecord struct {
	ID          string     `json:"id"`
	SentAt      time.Time  `json:"sentAt"`
	RespondedAt *time.Time `json:"respondedAt,omitempty"`
	Missed      bool       `json:"missed"`
}

type checkInStatus struct {
	Status            string           `json:"status"`
	Enabled           bool             `json:"enabled"`
	LastCheckInAt     time.Time        `json:"lastCheckInAt"`
	NextCheckInAt     time.Time        `json:"nextCheckInAt"`
	GracePeriodEndsAt time.Time        `json:"gracePeriodEndsAt"`
	IntervalDays      int              `json:"checkInIntervalDays"`
	GraceDays         int              `json:"graceDays"`
	MissedCount       int              `json:"missedCount"`
	RecentCheckIns    []checkInRecord  `json:"recentCheckIns"`
	OpenRequest       *unlockRequestVM `json:"openRequest,omitempty"`
}

// unlockRequestVM shows the owner the aggregate count only, never which
// contacts confirmed.
type unlockRequestVM struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"createdAt"`
	GracePeriodEnd    time.Time  `json:"gracePeriodEnd"`
	ExpiresAt         time.Time  `json:"expiresAt"`
	ConfirmationCount int        `json:"confirmationCount"`
	Reason            string     `json:"reason,omitempty"`
	ResolvedAt        *time.Time `json:"resolvedAt,omitempty"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type sessionResponse struct {
	SessionID string    `json:"sessionId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type itemKeyResponse struct {
	ItemID     string `json:"itemId"`
	Key        string `json:"key"`
	KeyVersion int    `json:"keyVersion,omitempty"`
}

type rotateResponse struct {
	Rewrapped int `json:"rewrapped"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type contactVM struct {
	ID                 string `json:"id"`
	Email              string `json:"email"`
	VerificationStatus string `json:"verificationStatus"`
	ShareIndex         int    `json:"shareIndex,omitempty"`
	HoldsShare         bool   `json:"holdsShare"`
}

type verifyResponse struct {
	ContactID string `json:"contactId"`
	OwnerID   string `json:"ownerId"`
	Token     string `json:"token"`
}

type shareRequest struct {
	RequestID  string `json:"requestId,omitempty"`
	Share      string `json:"share"`
	ShareIndex int    `json:"shareIndex"`
}

type shareResponse struct {
	RequestID         string `json:"requestId"`
	ConfirmationCount int    `json:"confirmationCount"`
}

type recipientVM struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

func toStatus(st *services.CheckInStatus) checkInStatus {
	out := checkInStatus{
		Status:            string(st.State),
		Enabled:           st.Enabled,
		LastCheckInAt:     st.LastCheckInAt,
		NextCheckInAt:     st.NextCheckInAt,
		GracePeriodEndsAt: st.GracePeriodEndsAt,
		IntervalDays:      st.IntervalDays,
		GraceDays:         st.GraceDays,
		MissedCount:       st.MissedCount,
		RecentCheckIns:    make([]checkInRecord, 0, len(st.RecentCheckIns)),
	}
	for _, rec := range st.RecentCheckIns {
		out.RecentCheckIns = append(out.RecentCheckIns, checkInRecord{
			ID:          rec.ID,
			SentAt:      rec.SentAt,
			RespondedAt: rec.RespondedAt,
			Missed:      rec.Missed,
		})
	}
	if st.OpenRequest != nil {
		vm := toRequest(st.OpenRequest)
		out.OpenRequest = &vm
	}
	return out
}

func toRequest(r *models.UnlockRequest) unlockRequestVM {
	return unlockRequestVM{
		ID:                r.ID,
		Status:            string(r.Status),
		CreatedAt:         r.CreatedAt,
		GracePeriodEnd:    r.GracePeriodEnd,
		ExpiresAt:         r.ExpiresAt,
		ConfirmationCount: r.ConfirmationCount,
		Reason:            r.Reason,
		ResolvedAt:        r.ResolvedAt,
	}
}

func toContact(c *models.TrustedContact) contactVM {
	return contactVM{
		ID:                 c.ID,
		Email:              c.Email,
		VerificationStatus: string(c.VerificationStatus),
		ShareIndex:         c.ShareIndex,
		HoldsShare:         c.HoldsShare(),
	}
}

func toRecipient(r *models.Recipient) recipientVM {
	return recipientVM{ID: r.ID, Email: r.Email, CreatedAt: r.CreatedAt}
}
