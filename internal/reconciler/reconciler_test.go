package reconciler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/policy"
	"github.com/yourorg/hpp-checkout/internal/reconciler"
	"github.com/yourorg/hpp-checkout/internal/transport/mock"
)

type sleepRecorder struct {
	calls atomic.Int32
	last  atomic.Int64
	hook  func()
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.calls.Add(1)
	s.last.Store(int64(d))
	if s.hook != nil {
		s.hook()
	}
	return nil
}

func newReconciler(mt *mock.MockTransport, grace reconciler.GracePolicy, s *sleepRecorder) *reconciler.Reconciler {
	return reconciler.New(mt, grace, reconciler.WithSleep(s.sleep))
}

func TestAdjudicate_AlreadyResolvedSkipsEverything(t *testing.T) {
	mt := mock.NewMockTransport()
	s := &sleepRecorder{}
	r := newReconciler(mt, nil, s)

	v := r.Adjudicate(context.Background(), reconciler.Request{
		DraftOrderID: 7,
		KnownError:   errors.New("ignored"),
		Resolved:     func() (int64, bool) { return 555, true },
	})

	require.NotNil(t, v.BusinessOrderID)
	assert.Equal(t, int64(555), *v.BusinessOrderID)
	assert.Equal(t, reconciler.SourceLocal, v.Source)
	assert.Zero(t, s.calls.Load())
	assert.Zero(t, mt.ConfirmCalls())
}

func TestAdjudicate_ResolvedDuringGrace(t *testing.T) {
	mt := mock.NewMockTransport()
	var resolved atomic.Bool
	s := &sleepRecorder{hook: func() { resolved.Store(true) }}
	r := newReconciler(mt, nil, s)

	v := r.Adjudicate(context.Background(), reconciler.Request{
		DraftOrderID: 7,
		Resolved: func() (int64, bool) {
			if resolved.Load() {
				return 42, true
			}
			return 0, false
		},
	})

	require.NotNil(t, v.BusinessOrderID)
	assert.Equal(t, int64(42), *v.BusinessOrderID)
	assert.Equal(t, int32(1), s.calls.Load())
	assert.Zero(t, mt.ConfirmCalls())
}

func TestAdjudicate_ConfirmFindsOrder(t *testing.T) {
	mt := mock.NewMockTransport()
	mt.ConfirmPaymentFunc = func(ctx context.Context, id int64) (checkout.ReconciliationOutcome, error) {
		assert.Equal(t, int64(7), id)
		return checkout.ReconciliationOutcome{BusinessOrderID: checkout.OrderID(9001)}, nil
	}
	r := newReconciler(mt, nil, &sleepRecorder{})

	v := r.Adjudicate(context.Background(), reconciler.Request{
		DraftOrderID: 7,
		KnownError:   errors.New("network dropped"),
	})

	require.NotNil(t, v.BusinessOrderID)
	assert.Equal(t, int64(9001), *v.BusinessOrderID)
	assert.Equal(t, reconciler.SourceConfirmed, v.Source)
	assert.NoError(t, v.Err)
	assert.Equal(t, 1, mt.ConfirmCalls())

	c := v.Completion()
	assert.Equal(t, checkout.OutcomeSuccess, c.Outcome)
}

func TestAdjudicate_NoOrderWithKnownErrorFails(t *testing.T) {
	mt := mock.NewMockTransport()
	r := newReconciler(mt, nil, &sleepRecorder{})
	known := &checkout.GatewayError{Message: "Card declined"}

	v := r.Adjudicate(context.Background(), reconciler.Request{DraftOrderID: 7, KnownError: known})

	assert.Nil(t, v.BusinessOrderID)
	assert.False(t, v.Cancelled)
	assert.Same(t, known, v.Err)
	assert.Equal(t, 1, mt.ConfirmCalls())
	assert.Equal(t, checkout.OutcomeFailure, v.Completion().Outcome)
}

func TestAdjudicate_NoOrderNoErrorIsCancelled(t *testing.T) {
	mt := mock.NewMockTransport()
	r := newReconciler(mt, nil, &sleepRecorder{})

	v := r.Adjudicate(context.Background(), reconciler.Request{DraftOrderID: 7})

	assert.True(t, v.Cancelled)
	assert.NoError(t, v.Err)
	assert.Equal(t, checkout.OutcomeCancelled, v.Completion().Outcome)
}

func TestAdjudicate_ConfirmErrorPrecedence(t *testing.T) {
	confirmErr := errors.New("confirm exploded")
	mt := mock.NewMockTransport()
	mt.ConfirmPaymentFunc = func(ctx context.Context, id int64) (checkout.ReconciliationOutcome, error) {
		return checkout.ReconciliationOutcome{}, confirmErr
	}
	r := newReconciler(mt, nil, &sleepRecorder{})

	known := errors.New("page failed to load")
	v := r.Adjudicate(context.Background(), reconciler.Request{DraftOrderID: 1, KnownError: known})
	assert.Equal(t, known, v.Err)

	v = r.Adjudicate(context.Background(), reconciler.Request{DraftOrderID: 1})
	assert.Equal(t, confirmErr, v.Err)
	assert.False(t, v.Cancelled)

	assert.Equal(t, 2, mt.ConfirmCalls())
}

func TestAdjudicate_ConfirmSurvivesCallerCancellation(t *testing.T) {
	mt := mock.NewMockTransport()
	mt.ConfirmPaymentFunc = func(ctx context.Context, id int64) (checkout.ReconciliationOutcome, error) {
		if err := ctx.Err(); err != nil {
			return checkout.ReconciliationOutcome{}, err
		}
		return checkout.ReconciliationOutcome{BusinessOrderID: checkout.OrderID(3)}, nil
	}
	r := reconciler.New(mt, reconciler.FixedGrace(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	v := r.Adjudicate(ctx, reconciler.Request{DraftOrderID: 1})

	assert.Less(t, time.Since(start), time.Second)
	require.NotNil(t, v.BusinessOrderID)
	assert.Equal(t, int64(3), *v.BusinessOrderID)
}

func TestAdjudicate_GraceComesFromPolicy(t *testing.T) {
	p, err := policy.NewGracePolicy(0, []policy.GraceRule{
		{ID: "wallet", Expression: "gateway_type == 'wallet'", GracePeriod: 4 * time.Second},
	})
	require.NoError(t, err)

	s := &sleepRecorder{}
	r := newReconciler(mock.NewMockTransport(), p, s)

	r.Adjudicate(context.Background(), reconciler.Request{DraftOrderID: 1, GatewayType: checkout.GatewayWallet})
	assert.Equal(t, int64(4*time.Second), s.last.Load())

	r.Adjudicate(context.Background(), reconciler.Request{DraftOrderID: 1, GatewayType: checkout.GatewayCard})
	assert.Equal(t, int64(policy.DefaultGracePeriod), s.last.Load())
}

func TestAdjudicate_RealGraceWaits(t *testing.T) {
	r := reconciler.New(mock.NewMockTransport(), reconciler.FixedGrace(30*time.Millisecond))

	start := time.Now()
	r.Adjudicate(context.Background(), reconciler.Request{DraftOrderID: 1})
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestAdjudicate_Metrics(t *testing.T) {
	before := testutil.ToFloat64(reconciler.GetReconciliationsTotal().WithLabelValues("cancelled"))

	r := newReconciler(mock.NewMockTransport(), nil, &sleepRecorder{})
	r.Adjudicate(context.Background(), reconciler.Request{DraftOrderID: 1})

	after := testutil.ToFloat64(reconciler.GetReconciliationsTotal().WithLabelValues("cancelled"))
	assert.Equal(t, before+1, after)
	assert.Equal(t, 1, testutil.CollectAndCount(reconciler.GetReconcileDuration()))
}

func TestNew_PanicsOnNilConfirmer(t *testing.T) {
	assert.Panics(t, func() { reconciler.New(nil, nil) })
}
