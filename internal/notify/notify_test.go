package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/legacyvault/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func newBufferLogger(t *testing.T) (logging.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(&buf, nil))), &buf
}

func TestLogDispatcher_DoesNotLogPayload(t *testing.T) {
	logger, buf := newBufferLogger(t)
	d := NewLogDispatcher(logger)

	d.Notify(context.Background(), Event{
		Kind:     TargetContact,
		TargetID: "c-1",
		Type:     EventShareIssued,
		Payload:  map[string]string{"share_key": "very-secret"},
	})

	out := buf.String()
	assert.Contains(t, out, "type=share_issued")
	assert.Contains(t, out, "target_id=c-1")
	assert.NotContains(t, out, "very-secret")
}

func TestDispatchAll_PreservesOrder(t *testing.T) {
	d := NewMemoryDispatcher()
	DispatchAll(context.Background(), d, []Event{
		{Type: EventUnlockOpened, TargetID: "o"},
		{Type: EventUnlockRequested, TargetID: "a"},
		{Type: EventUnlockRequested, TargetID: "b"},
	})

	events := d.Events()
	require.Len(t, events, 3)
	assert.Equal(t, EventUnlockOpened, events[0].Type)
	assert.Len(t, d.ByType(EventUnlockRequested), 2)

	last, ok := d.Last(EventUnlockRequested, "b")
	require.True(t, ok)
	assert.Equal(t, "b", last.TargetID)

	_, ok = d.Last(EventVaultUnlocked, "b")
	assert.False(t, ok)
}

type blockingDispatcher struct {
	release chan struct{}
	mu      sync.Mutex
	got     []Event
}

func (b *blockingDispatcher) Notify(_ context.Context, e Event) {
	<-b.release
	b.mu.Lock()
	b.got = append(b.got, e)
	b.mu.Unlock()
}

func TestAsyncDispatcher_NeverBlocks(t *testing.T) {
	slow := &blockingDispatcher{release: make(chan struct{})}
	d := NewAsyncDispatcher(slow, 1, 1, logging.NewDiscardLogger())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Notify(context.Background(), Event{Type: EventCheckInReminder})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a slow downstream")
	}

	assert.Positive(t, d.Dropped())

	close(slow.release)
	d.Close()

	slow.mu.Lock()
	delivered := len(slow.got)
	slow.mu.Unlock()
	assert.Equal(t, int64(10), int64(delivered)+d.Dropped())

	d.Notify(context.Background(), Event{Type: EventCheckInReminder})
	d.Close()
}

func TestAsyncDispatcher_DeliversQueued(t *testing.T) {
	mem := NewMemoryDispatcher()
	d := NewAsyncDispatcher(mem, 16, 2, logging.NewDiscardLogger())

	for i := 0; i < 5; i++ {
		d.Notify(context.Background(), Event{Type: EventUnlockRequested})
	}
	d.Close()

	assert.Len(t, mem.Events(), 5)
	assert.Zero(t, d.Dropped())
}

func TestWebhookDispatcher_PostsJSON(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, srv.Client(), logging.NewDiscardLogger())
	d.Notify(context.Background(), Event{
		Kind:     TargetRecipient,
		TargetID: "r-1",
		Email:    "heir@example.com",
		Type:     EventVaultReleased,
		Payload:  map[string]string{"token": "t"},
	})

	assert.Equal(t, EventVaultReleased, got.Type)
	assert.Equal(t, "heir@example.com", got.Email)
	assert.Equal(t, "t", got.Payload["token"])
}

func TestWebhookDispatcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Inc() < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewWebhookDispatcher(srv.URL, srv.Client(), logging.NewDiscardLogger()).WithBackoff(5, time.Millisecond)
	require.NoError(t, d.deliver(context.Background(), Event{Type: EventCheckInReminder}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookDispatcher_ClientErrorIsFinal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Inc()
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	logger, buf := newBufferLogger(t)
	d := NewWebhookDispatcher(srv.URL, srv.Client(), logger).WithBackoff(5, time.Millisecond)
	d.Notify(context.Background(), Event{Type: EventCheckInReminder, TargetID: "o-1"})

	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, strings.Contains(buf.String(), "notification delivery failed"))
}

func TestFanout_ReachesEveryDispatcher(t *testing.T) {
	a, b := NewMemoryDispatcher(), NewMemoryDispatcher()
	Fanout{a, b}.Notify(context.Background(), Event{Type: EventVaultUnlocked, TargetID: "o"})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
}
