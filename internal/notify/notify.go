// Package notify is the fire-and-forget notification contract consumed by
// the check-in and unlock machinery. Delivery failures never propagate back
// to a state transition.
package notify

import (
	"context"
	"time"
)

// TargetKind says who an event is addressed to.
type TargetKind string

const (
	TargetOwner     TargetKind = "owner"
	TargetContact   TargetKind = "contact"
	TargetRecipient TargetKind = "recipient"
)

// EventType names a notification.
type EventType string

const (
	EventCheckInReminder      EventType = "checkin_reminder"
	EventCheckInUpcoming      EventType = "checkin_upcoming"
	EventContactVerification  EventType = "contact_verification"
	EventShareIssued          EventType = "share_issued"
	EventSharesInvalidated    EventType = "shares_invalidated"
	EventUnlockRequested      EventType = "unlock_requested"
	EventUnlockOpened         EventType = "unlock_request_opened"
	EventInsufficientContacts EventType = "insufficient_contacts"
	EventUnlockCancelled      EventType = "unlock_request_cancelled"
	EventUnlockExpired        EventType = "unlock_request_expired"
	EventVaultUnlocked        EventType = "vault_unlocked"
	EventVaultReleased        EventType = "vault_released"
)

// Event is one notification. Payload may carry delivery secrets (share keys,
// access tokens) and must only be handed to the delivery channel.
type Event struct {
	Kind     TargetKind        `json:"kind"`
	TargetID string            `json:"target_id"`
	Email    string            `json:"email,omitempty"`
	Type     EventType         `json:"type"`
	Payload  map[string]string `json:"payload,omitempty"`
	At       time.Time         `json:"at"`
}

// Dispatcher delivers events. Notify must not block on delivery.
type Dispatcher interface {
	Notify(ctx context.Context, e Event)
}

// DispatchAll sends every event in order.
func DispatchAll(ctx context.Context, d Dispatcher, events []Event) {
	for _, e := range events {
		d.Notify(ctx, e)
	}
}

// Fanout hands every event to each dispatcher in turn.
type Fanout []Dispatcher

func (f Fanout) Notify(ctx context.Context, e Event) {
	for _, d := range f {
		d.Notify(ctx, e)
	}
}
