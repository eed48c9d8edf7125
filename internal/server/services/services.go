// Package services contains the server-side business logic: the check-in
// scheduler, the unlock request state machine, the stateful side of the
// threshold share store, and the owner-facing vault, contact and recipient
// operations built around them.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/config"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/repomanager"
)

const (
	MinCheckInIntervalDays = 7
	MaxCheckInIntervalDays = 365
	MinGraceDays           = 1
	MaxGraceDays           = 30

	// MaxContacts is the size of the trusted contact quorum.
	MaxContacts = 3

	// RecentCheckIns is how much history the status view returns.
	RecentCheckIns = 10

	ReminderEvery          = 24 * time.Hour
	VerificationTokenTTL   = 7 * 24 * time.Hour
	AccessGrantTTL         = 10 * 365 * 24 * time.Hour
	verificationTokenBytes = 32
	accessTokenBytes       = 32
)

// UpcomingReminderDays are the days before the due date on which an active
// owner is reminded to check in.
var UpcomingReminderDays = []int{7, 3, 1}

// Policy holds the tunable timing rules of the switch.
type Policy struct {
	ConfirmationTimeout  time.Duration
	DefaultIntervalDays  int
	DefaultGraceDays     int
	ContactTokenValidity time.Duration
}

// DefaultPolicy mirrors the server defaults: 30 day interval, 30 day grace
// and a 30 day confirmation window.
func DefaultPolicy() Policy {
	return Policy{
		ConfirmationTimeout:  30 * 24 * time.Hour,
		DefaultIntervalDays:  30,
		DefaultGraceDays:     30,
		ContactTokenValidity: 30 * 24 * time.Hour,
	}
}

// PolicyFromConfig takes the timing rules from the server config.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		ConfirmationTimeout:  cfg.ConfirmationTimeout,
		DefaultIntervalDays:  cfg.DefaultCheckInIntervalDays,
		DefaultGraceDays:     cfg.DefaultGraceDays,
		ContactTokenValidity: cfg.ContactTokenValidityDuration,
	}
}

// ContactTokenIssuer mints the bearer token mailed to a contact with an
// unlock request or returned on verification.
type ContactTokenIssuer interface {
	ContactToken(ownerID, contactID string, validity time.Duration) (string, error)
}

// SessionInfo identifies an unlocked vault session.
type SessionInfo struct {
	ID        string
	ExpiresAt time.Time
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

// withOwnerTx runs fn in a transaction holding ownerID's row lock. Events fn
// returns are dispatched only after commit.
func withOwnerTx(ctx context.Context, store repomanager.Store, d notify.Dispatcher, ownerID string,
	fn func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error)) error {
	var events []notify.Event
	err := store.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		o, err := repos.Owners().GetForUpdate(ctx, ownerID)
		if err != nil {
			return err
		}
		events, err = fn(ctx, repos, o)
		return err
	})
	if err != nil {
		return err
	}
	notify.DispatchAll(ctx, d, events)
	return nil
}

func ownerEvent(o *models.Owner, t notify.EventType, at time.Time, payload map[string]string) notify.Event {
	return notify.Event{Kind: notify.TargetOwner, TargetID: o.ID, Email: o.Email, Type: t, Payload: payload, At: at}
}

func contactEvent(c *models.TrustedContact, t notify.EventType, at time.Time, payload map[string]string) notify.Event {
	return notify.Event{Kind: notify.TargetContact, TargetID: c.ID, Email: c.Email, Type: t, Payload: payload, At: at}
}

// isFinal reports errors that retrying cannot fix.
func isFinal(err error) bool {
	for _, target := range []error{
		common.ErrorNotFound,
		common.ErrorValidation,
		common.ErrAlreadyOpen,
		common.ErrRequestClosed,
		common.ErrInvalidTransition,
		common.ErrDecryption,
		common.ErrInsufficientShares,
		context.Canceled,
		context.DeadlineExceeded,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
