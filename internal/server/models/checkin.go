package models

import "time"

// CheckInRecord is one liveness signal: either a reminder that went out
// (RespondedAt nil, Missed true) or an owner check-in.
type CheckInRecord struct {
	ID          string
	OwnerID     string
	SentAt      time.Time
	RespondedAt *time.Time
	Missed      bool
}
