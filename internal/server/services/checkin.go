package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"slices"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/legacyvault/internal/common"
	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/dmitrijs2005/legacyvault/internal/notify"
	"github.com/dmitrijs2005/legacyvault/internal/server/models"
	"github.com/dmitrijs2005/legacyvault/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// LivenessState is derived from the last check-in and the wall clock only.
type LivenessState string

const (
	StateActive       LivenessState = "active"
	StateOverdue      LivenessState = "overdue"
	StateGraceExpired LivenessState = "grace_expired"
)

// Liveness is the evaluated switch state of one owner.
type Liveness struct {
	State       LivenessState
	DueAt       time.Time
	GraceEndsAt time.Time
}

// Evaluate computes the owner's liveness at now:
// active before dueAt, overdue until dueAt+grace, grace expired afterwards.
func Evaluate(o *models.Owner, now time.Time) Liveness {
	due := o.LastCheckInAt.Add(days(o.CheckInIntervalDays))
	graceEnd := due.Add(days(o.GraceDays))

	lv := Liveness{DueAt: due, GraceEndsAt: graceEnd}
	switch {
	case now.Before(due):
		lv.State = StateActive
	case now.Before(graceEnd):
		lv.State = StateOverdue
	default:
		lv.State = StateGraceExpired
	}
	return lv
}

// CheckInStatus is the owner-facing view of the switch.
type CheckInStatus struct {
	State             LivenessState
	Enabled           bool
	LastCheckInAt     time.Time
	NextCheckInAt     time.Time
	GracePeriodEndsAt time.Time
	IntervalDays      int
	GraceDays         int
	MissedCount       int
	RecentCheckIns    []models.CheckInRecord
	OpenRequest       *models.UnlockRequest
}

// SweepReport summarizes one pass over all owners.
type SweepReport struct {
	Owners  int
	Failed  int
	Expired int
}

// CheckInService tracks owner liveness, sends reminders and hands expired
// owners over to the unlock machine.
type CheckInService struct {
	store    repomanager.Store
	unlock   *UnlockMachine
	notifier notify.Dispatcher
	clock    clock.Clock
	logger   logging.Logger
	policy   Policy

	workers    int
	maxRetries uint64
	retryBase  time.Duration
}

func NewCheckInService(store repomanager.Store, unlock *UnlockMachine, notifier notify.Dispatcher,
	clk clock.Clock, logger logging.Logger, policy Policy, workers int) *CheckInService {
	if workers < 1 {
		workers = 1
	}
	return &CheckInService{
		store:      store,
		unlock:     unlock,
		notifier:   notifier,
		clock:      clk,
		logger:     logger.With("module", "checkin"),
		policy:     policy,
		workers:    workers,
		maxRetries: 3,
		retryBase:  100 * time.Millisecond,
	}
}

// WithRetry overrides the per-owner retry policy of Sweep.
func (s *CheckInService) WithRetry(maxRetries uint64, base time.Duration) *CheckInService {
	s.maxRetries = maxRetries
	s.retryBase = base
	return s
}

// SwitchSettings is what an owner can change about their switch. Zero
// interval or grace days select the policy defaults, a nil Enabled keeps the
// current value and an empty Email keeps the current address.
type SwitchSettings struct {
	Email        string
	IntervalDays int
	GraceDays    int
	Enabled      *bool
}

// Configure sets the owner's switch. The first call creates the owner and
// counts as a check-in. Turning the switch off cancels any open unlock
// request; turning it back on restarts the timer from now.
func (s *CheckInService) Configure(ctx context.Context, ownerID string, in SwitchSettings) (*models.Owner, error) {
	intervalDays, graceDays := in.IntervalDays, in.GraceDays
	if intervalDays == 0 {
		intervalDays = s.policy.DefaultIntervalDays
	}
	if graceDays == 0 {
		graceDays = s.policy.DefaultGraceDays
	}
	if intervalDays < MinCheckInIntervalDays || intervalDays > MaxCheckInIntervalDays {
		return nil, fmt.Errorf("%w: check-in interval must be %d..%d days", common.ErrorValidation, MinCheckInIntervalDays, MaxCheckInIntervalDays)
	}
	if graceDays < MinGraceDays || graceDays > MaxGraceDays {
		return nil, fmt.Errorf("%w: grace period must be %d..%d days", common.ErrorValidation, MinGraceDays, MaxGraceDays)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", common.ErrorValidation)
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return nil, fmt.Errorf("%w: invalid email", common.ErrorValidation)
		}
	}

	var out *models.Owner
	var events []notify.Event
	err := s.store.WithTx(ctx, func(ctx context.Context, repos repomanager.Repositories) error {
		now := s.clock.Now()

		o, err := repos.Owners().GetForUpdate(ctx, ownerID)
		if errors.Is(err, common.ErrorNotFound) {
			if in.Email == "" {
				return fmt.Errorf("%w: invalid email", common.ErrorValidation)
			}
			o = &models.Owner{
				ID:                  ownerID,
				Email:               in.Email,
				CheckInIntervalDays: intervalDays,
				GraceDays:           graceDays,
				Enabled:             in.Enabled == nil || *in.Enabled,
				LastCheckInAt:       now,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := repos.Owners().Create(ctx, o); err != nil {
				return err
			}
			out = o
			return nil
		}
		if err != nil {
			return err
		}

		if in.Email != "" {
			o.Email = in.Email
		}
		o.CheckInIntervalDays = intervalDays
		o.GraceDays = graceDays
		o.UpdatedAt = now

		switch {
		case in.Enabled == nil || *in.Enabled == o.Enabled:
			err = repos.Owners().Update(ctx, o)
		case *in.Enabled:
			o.Enabled = true
			err = recordCheckIn(ctx, repos, o, now)
		default:
			o.Enabled = false
			if err = repos.Owners().Update(ctx, o); err == nil {
				events, err = s.unlock.cancelOpenInTx(ctx, repos, o, "switch disabled", now)
			}
		}
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	notify.DispatchAll(ctx, s.notifier, events)
	s.logger.Info(ctx, "check-in configured", "owner_id", ownerID, "interval_days", intervalDays, "grace_days", graceDays, "enabled", out.Enabled)
	return out, nil
}

// Status recomputes the switch state from persisted timestamps.
func (s *CheckInService) Status(ctx context.Context, ownerID string) (*CheckInStatus, error) {
	o, err := s.store.Owners().Get(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	recent, err := s.store.CheckIns().ListRecent(ctx, ownerID, RecentCheckIns)
	if err != nil {
		return nil, err
	}

	lv := Evaluate(o, s.clock.Now())
	st := &CheckInStatus{
		State:             lv.State,
		Enabled:           o.Enabled,
		LastCheckInAt:     o.LastCheckInAt,
		NextCheckInAt:     lv.DueAt,
		GracePeriodEndsAt: lv.GraceEndsAt,
		IntervalDays:      o.CheckInIntervalDays,
		GraceDays:         o.GraceDays,
		MissedCount:       o.MissedCount,
		RecentCheckIns:    recent,
	}

	open, err := s.store.UnlockRequests().GetOpenByOwner(ctx, ownerID)
	switch {
	case err == nil:
		st.OpenRequest = open
	case !errors.Is(err, common.ErrorNotFound):
		return nil, err
	}
	return st, nil
}

// PerformCheckIn records a liveness signal. Any open unlock request is
// cancelled in the same transaction: the owner proving liveness always wins.
func (s *CheckInService) PerformCheckIn(ctx context.Context, ownerID string) (*CheckInStatus, error) {
	err := withOwnerTx(ctx, s.store, s.notifier, ownerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
		now := s.clock.Now()
		if err := recordCheckIn(ctx, repos, o, now); err != nil {
			return nil, err
		}
		return s.unlock.cancelOpenInTx(ctx, repos, o, "owner checked in", now)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "owner checked in", "owner_id", ownerID)
	return s.Status(ctx, ownerID)
}

// recordCheckIn resets the owner's liveness to now and appends the history
// record.
func recordCheckIn(ctx context.Context, repos repomanager.Repositories, o *models.Owner, now time.Time) error {
	lv := Evaluate(o, now)
	responded := now
	rec := &models.CheckInRecord{
		ID:          uuid.NewString(),
		OwnerID:     o.ID,
		SentAt:      now,
		RespondedAt: &responded,
		Missed:      !now.Before(lv.DueAt),
	}

	o.LastCheckInAt = now
	o.LastReminderAt = nil
	o.MissedCount = 0
	o.UpdatedAt = now
	if err := repos.Owners().Update(ctx, o); err != nil {
		return err
	}
	return repos.CheckIns().Create(ctx, rec)
}

// SweepOwner evaluates one owner. Active owners are reminded 7, 3 and 1 days
// before the due date, overdue owners at most once per day, and
// grace-expired owners get an unlock request unless this liveness episode
// already produced one. A disabled switch is left alone.
func (s *CheckInService) SweepOwner(ctx context.Context, ownerID string) error {
	return withOwnerTx(ctx, s.store, s.notifier, ownerID, func(ctx context.Context, repos repomanager.Repositories, o *models.Owner) ([]notify.Event, error) {
		if !o.Enabled {
			return nil, nil
		}
		now := s.clock.Now()
		lv := Evaluate(o, now)

		switch lv.State {
		case StateActive:
			left := daysUntil(lv.DueAt, now)
			if !slices.Contains(UpcomingReminderDays, left) || remindedWithin(o, now, time.Time{}) {
				return nil, nil
			}
			return s.remindUpcomingInTx(ctx, repos, o, lv, left, now)

		case StateOverdue:
			// Upcoming reminders sent before the due date do not hold back
			// the first overdue one.
			if remindedWithin(o, now, lv.DueAt) {
				return nil, nil
			}
			return s.remindInTx(ctx, repos, o, lv, now)

		case StateGraceExpired:
			escalated, err := escalatedSince(ctx, repos, o)
			if err != nil || escalated {
				return nil, err
			}
			_, events, err := s.unlock.openInTx(ctx, repos, o, now)
			if errors.Is(err, common.ErrAlreadyOpen) {
				return nil, nil
			}
			return events, err
		}
		return nil, nil
	})
}

// remindedWithin reports whether the owner got a reminder at or after since
// and less than ReminderEvery ago.
func remindedWithin(o *models.Owner, now, since time.Time) bool {
	last := o.LastReminderAt
	return last != nil && !last.Before(since) && now.Sub(*last) < ReminderEvery
}

// daysUntil rounds the time left up to whole days.
func daysUntil(due, now time.Time) int {
	left := due.Sub(now)
	n := int(left / ReminderEvery)
	if left%ReminderEvery != 0 {
		n++
	}
	return n
}

func (s *CheckInService) remindUpcomingInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner, lv Liveness, left int, now time.Time) ([]notify.Event, error) {
	sent := now
	o.LastReminderAt = &sent
	o.UpdatedAt = now
	if err := repos.Owners().Update(ctx, o); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "upcoming check-in reminder sent", "owner_id", o.ID, "days_until_due", left)
	return []notify.Event{ownerEvent(o, notify.EventCheckInUpcoming, now, map[string]string{
		"due_at":         lv.DueAt.Format(time.RFC3339),
		"days_until_due": strconv.Itoa(left),
	})}, nil
}

func (s *CheckInService) remindInTx(ctx context.Context, repos repomanager.Repositories, o *models.Owner, lv Liveness, now time.Time) ([]notify.Event, error) {
	sent := now
	o.LastReminderAt = &sent
	o.MissedCount++
	o.UpdatedAt = now
	if err := repos.Owners().Update(ctx, o); err != nil {
		return nil, err
	}
	if err := repos.CheckIns().Create(ctx, &models.CheckInRecord{
		ID:      uuid.NewString(),
		OwnerID: o.ID,
		SentAt:  now,
		Missed:  true,
	}); err != nil {
		return nil, err
	}

	s.logger.Info(ctx, "check-in reminder sent", "owner_id", o.ID, "missed_count", o.MissedCount)
	return []notify.Event{ownerEvent(o, notify.EventCheckInReminder, now, map[string]string{
		"due_at":           lv.DueAt.Format(time.RFC3339),
		"grace_period_end": lv.GraceEndsAt.Format(time.RFC3339),
		"missed_count":     strconv.Itoa(o.MissedCount),
	})}, nil
}

// escalatedSince reports whether a request was already opened after the
// owner's last check-in, so a resolved request is not reopened before the
// owner shows up again.
func escalatedSince(ctx context.Context, repos repomanager.Repositories, o *models.Owner) (bool, error) {
	reqs, err := repos.UnlockRequests().ListByOwner(ctx, o.ID)
	if err != nil {
		return false, err
	}
	for _, r := range reqs {
		if !r.CreatedAt.Before(o.LastCheckInAt) {
			return true, nil
		}
	}
	return false, nil
}

// Sweep runs SweepOwner for every owner in parallel, retrying transient
// failures with backoff, then runs the expiry watchdog. A failing owner is
// logged and skipped; it never aborts the rest of the sweep.
func (s *CheckInService) Sweep(ctx context.Context) (SweepReport, error) {
	ids, err := s.store.Owners().ListEnabledIDs(ctx)
	if err != nil {
		return SweepReport{}, err
	}

	failed := atomic.NewInt64(0)
	g := new(errgroup.Group)
	g.SetLimit(s.workers)

	for _, id := range ids {
		g.Go(func() error {
			backoff := retry.WithMaxRetries(s.maxRetries, retry.NewExponential(s.retryBase))
			err := retry.Do(ctx, backoff, func(ctx context.Context) error {
				if err := s.SweepOwner(ctx, id); err != nil {
					if isFinal(err) {
						return err
					}
					return retry.RetryableError(err)
				}
				return nil
			})
			if err != nil {
				failed.Inc()
				s.logger.Error(ctx, "sweep failed for owner", "owner_id", id, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	report := SweepReport{Owners: len(ids), Failed: int(failed.Load())}

	expired, err := s.unlock.ExpireOverdue(ctx)
	report.Expired = expired
	if err != nil {
		return report, err
	}

	s.logger.Debug(ctx, "sweep finished", "owners", report.Owners, "failed", report.Failed, "expired", report.Expired)
	return report, ctx.Err()
}
