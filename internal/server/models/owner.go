// Package models defines the server-side records persisted by the store.
package models

import "time"

// Owner is a vault owner together with their dead-man's-switch settings and
// the wrapped forms of their vault master key.
type Owner struct {
	ID                  string
	Email               string
	CheckInIntervalDays int
	GraceDays           int
	Enabled             bool // disabled owners are left out of sweeps
	LastCheckInAt       time.Time
	LastReminderAt      *time.Time
	MissedCount         int

	// VMK material; empty until the vault is set up.
	VMKSalt               []byte
	EncryptedVMK          string
	EncryptedVMKThreshold string
	KeyVersion            int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// VaultInitialized reports whether a VMK has been created.
func (o *Owner) VaultInitialized() bool {
	return o.EncryptedVMK != ""
}

// Clone returns a copy that shares no mutable memory with o.
func (o Owner) Clone() Owner {
	c := o
	c.VMKSalt = append([]byte(nil), o.VMKSalt...)
	if o.LastReminderAt != nil {
		t := *o.LastReminderAt
		c.LastReminderAt = &t
	}
	return c
}
