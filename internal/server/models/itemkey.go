package models

import "time"

// ItemKey is a per-item DEK wrapped under the VMK, in envelope text form.
type ItemKey struct {
	OwnerID    string
	ItemID     string
	WrappedKey string
	KeyVersion int
	CreatedAt  time.Time
}
