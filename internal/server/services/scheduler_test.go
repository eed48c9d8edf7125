package services

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_Tick(t *testing.T) {
	h := newHarness(t)
	s := NewScheduler(h.checkins, h.clock, time.Hour, logging.NewDiscardLogger())

	assert.True(t, s.Tick(context.Background()))
	assert.EqualValues(t, 1, s.Runs())

	s.running.Store(true)
	assert.False(t, s.Tick(context.Background()), "overlapping ticks are skipped")
	assert.EqualValues(t, 1, s.Runs())
}

func TestScheduler_RunSweepsOnEveryTick(t *testing.T) {
	h := newHarness(t)
	h.newOwner(t, "owner")
	s := NewScheduler(h.checkins, h.clock, time.Hour, logging.NewDiscardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return s.Runs() >= 1 }, time.Second, time.Millisecond)

	h.clock.Set(t0.Add(days(61)))
	require.Eventually(t, func() bool {
		h.clock.Add(time.Hour)
		_, err := h.store.UnlockRequests().GetOpenByOwner(context.Background(), "owner")
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
