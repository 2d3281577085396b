package server

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/hpp-checkout/internal/bridge"
	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/reconciler"
	"github.com/yourorg/hpp-checkout/internal/session"
	"github.com/yourorg/hpp-checkout/internal/transport/mock"
)

// startCashSession starts a cash session whose draft creation waits for release.
func startCashSession(t *testing.T, release <-chan struct{}) *session.Session {
	t.Helper()
	var req checkout.CheckoutRequest
	require.NoError(t, json.Unmarshal([]byte(body("cash")), &req))

	mt := mock.NewMockTransport()
	mt.CreateDraftOrderFunc = func(ctx context.Context, r checkout.DraftOrderRequest) (checkout.DraftOrder, error) {
		<-release
		return checkout.DraftOrder{DraftOrderID: 1, BusinessOrderID: checkout.OrderID(1)}, nil
	}
	s := session.New(req, session.Dependencies{
		Transport:  mt,
		Reconciler: reconciler.New(mt, reconciler.FixedGrace(0)),
		NewSurface: func(string) (bridge.Surface, error) { return nil, errors.New("no page for cash") },
	})
	require.NoError(t, s.Start(context.Background()))
	return s
}

func finishedSession(t *testing.T) *session.Session {
	t.Helper()
	release := make(chan struct{})
	close(release)
	s := startCashSession(t, release)
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cash session did not finish")
	}
	return s
}

func TestRegistry_EvictsAfterRetention(t *testing.T) {
	r := newRegistry(20*time.Millisecond, 10)
	s := finishedSession(t)
	r.add(&entry{session: s})

	_, ok := r.get(s.ID())
	assert.True(t, ok, "finished session stays reachable during retention")

	require.Eventually(t, func() bool {
		_, ok := r.get(s.ID())
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	recs := r.records()
	require.Len(t, recs, 1)
	assert.Equal(t, s.ID(), recs[0].ID)
	assert.True(t, recs[0].Terminal())
}

func TestRegistry_HistoryIsCapped(t *testing.T) {
	r := newRegistry(-1, 2)
	for i := 0; i < 3; i++ {
		r.add(&entry{session: finishedSession(t)})
	}

	require.Eventually(t, func() bool {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.entries) == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Len(t, r.records(), 2)
}

func TestRegistry_RunningSessionsAreKeptAndAwaited(t *testing.T) {
	r := newRegistry(-1, 10)
	release := make(chan struct{})
	s := startCashSession(t, release)
	r.add(&entry{session: s})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := r.wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	_, ok := r.get(s.ID())
	assert.True(t, ok, "running session must not be evicted")
	assert.Len(t, r.running(), 1)

	close(release)
	require.NoError(t, r.wait(context.Background()))
	assert.Empty(t, r.running())
}
