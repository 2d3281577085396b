// Package session drives one hosted-payment checkout attempt from draft order
// creation to exactly one terminal outcome.
//
// Every input that can move the state machine (transport completions, bridge
// events, reconciliation verdicts, caller cancellation) is posted to a single
// channel and applied by one goroutine. The first qualifying event wins;
// anything that arrives after the session is terminal is discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yourorg/hpp-checkout/internal/bridge"
	"github.com/yourorg/hpp-checkout/internal/checkout"
	custom_context "github.com/yourorg/hpp-checkout/internal/context"
	"github.com/yourorg/hpp-checkout/internal/reconciler"
	"github.com/yourorg/hpp-checkout/internal/requestbuilder"
	"github.com/yourorg/hpp-checkout/internal/transport"
)

var (
	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("session: already started")
	// ErrNotStarted is returned by Cancel before Start.
	ErrNotStarted = errors.New("session: not started")
	// ErrFinished is returned by Cancel once the session is terminal.
	ErrFinished = errors.New("session: already finished")
	// ErrPageTimeout is the known error when the page produced no result in time.
	ErrPageTimeout = fmt.Errorf("session: hosted page timed out: %w", context.DeadlineExceeded)
)

const eventBuffer = 32

// Adjudicator resolves ambiguous terminations.
type Adjudicator interface {
	Adjudicate(ctx context.Context, req reconciler.Request) reconciler.Verdict
}

// SurfaceFactory creates the embedded browser surface for a session.
type SurfaceFactory func(sessionID string) (bridge.Surface, error)

// Dependencies are the collaborators a session needs.
type Dependencies struct {
	Transport  transport.CheckoutTransport
	Reconciler Adjudicator
	NewSurface SurfaceFactory
	Logger     *zap.Logger
}

// Option configures a Session.
type Option func(*Session)

// WithID overrides the generated session id.
func WithID(id string) Option {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithCompletionHandler registers the callback invoked exactly once when the
// session reaches Terminal. It runs on the session goroutine and must not
// wait on Done.
func WithCompletionHandler(fn func(checkout.Completion)) Option {
	return func(s *Session) { s.onComplete = fn }
}

// WithPolicyDecider installs a navigation decider on the session's bridge.
func WithPolicyDecider(d bridge.PolicyDecider) Option {
	return func(s *Session) { s.decider = d }
}

// WithTraceContext ties the session's logs to an existing trace.
func WithTraceContext(tc custom_context.TraceContext) Option {
	return func(s *Session) { s.traceCtx = tc }
}

// WithPageTimeout bounds how long the hosted page may stay open without a
// result. When it fires the session reconciles with ErrPageTimeout.
func WithPageTimeout(d time.Duration) Option {
	return func(s *Session) { s.pageTimeout = d }
}

// Session is one checkout attempt. It owns its bridge exclusively.
type Session struct {
	id          string
	req         checkout.CheckoutRequest
	deps        Dependencies
	logger      *zap.Logger
	onComplete  func(checkout.Completion)
	decider     bridge.PolicyDecider
	traceCtx    custom_context.TraceContext
	pageTimeout time.Duration

	events  chan event
	closing chan struct{}
	done    chan struct{}
	started atomic.Bool

	// fields below are written only by the run loop; mu lets other
	// goroutines read them
	mu           sync.RWMutex
	state        checkout.SessionState
	draftOrderID int64
	resolvedID   *int64
	bridge       *bridge.Bridge
	completion   checkout.Completion
	reconciled   bool
	source       reconciler.Source
	startedAt    time.Time
	finishedAt   time.Time

	// loop-only
	submitting      bool
	reconcileQueued bool
	pageTimer       *time.Timer
	span            trace.Span
}

// New creates an idle session. It panics when a required dependency is missing.
func New(req checkout.CheckoutRequest, deps Dependencies, opts ...Option) *Session {
	if deps.Transport == nil {
		panic("Transport cannot be nil")
	}
	if deps.Reconciler == nil {
		panic("Reconciler cannot be nil")
	}
	if deps.NewSurface == nil {
		panic("NewSurface cannot be nil")
	}
	s := &Session{
		id:      uuid.NewString(),
		req:     req,
		deps:    deps,
		logger:  deps.Logger,
		events:  make(chan event, eventBuffer),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		state:   checkout.StateIdle,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.traceCtx.TraceID == "" {
		s.traceCtx = custom_context.NewTraceContext(context.Background())
	}
	s.logger = s.logger.With(
		zap.String("session_id", s.id),
		zap.String("trace_id", s.traceCtx.TraceID),
	)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Request returns the checkout request the session was created with.
func (s *Session) Request() checkout.CheckoutRequest { return s.req }

// Done is closed after the completion has been delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() checkout.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Completion returns the terminal result and whether the session has one.
func (s *Session) Completion() (checkout.Completion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.completion, s.state == checkout.StateTerminal
}

// Bridge returns the session's bridge, or nil before the page is presented.
func (s *Session) Bridge() *bridge.Bridge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bridge
}

// DraftOrderID returns the draft order id once it has been created.
func (s *Session) DraftOrderID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.draftOrderID
}

// Wait blocks until the session is terminal or ctx ends.
func (s *Session) Wait(ctx context.Context) (checkout.Completion, error) {
	select {
	case <-s.done:
		c, _ := s.Completion()
		return c, nil
	case <-ctx.Done():
		return checkout.Completion{}, ctx.Err()
	}
}

// Start runs the session. ctx bounds the pre-payment calls; once the page is
// presented, ctx ending is treated as an ambiguous termination and the
// session still reconciles before it finishes.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, s.span = otel.Tracer("session").Start(ctx, "PaymentGatewaySession.Run",
		trace.WithAttributes(
			attribute.String("session_id", s.id),
			attribute.String("trace_id", s.traceCtx.TraceID),
			attribute.String("gateway_type", string(s.req.GatewayType)),
			attribute.String("store_id", s.req.StoreID),
		))

	s.mu.Lock()
	s.startedAt = time.Now()
	s.mu.Unlock()
	sessionsStartedTotal.WithLabelValues(string(s.req.GatewayType)).Inc()

	go s.run(ctx)
	s.post(event{kind: evStart})
	return nil
}

// Cancel is the caller's request to abandon the attempt. Before the page is
// presented the session ends Cancelled; afterwards it reconciles like a page
// cancellation, since a charge may already have happened.
func (s *Session) Cancel() error {
	if !s.started.Load() {
		return ErrNotStarted
	}
	if s.State() == checkout.StateTerminal {
		return ErrFinished
	}
	s.post(event{kind: evUserCancel})
	return nil
}

func (s *Session) post(ev event) {
	select {
	case <-s.closing:
		return
	default:
	}
	select {
	case s.events <- ev:
	case <-s.closing:
	}
}

func (s *Session) run(ctx context.Context) {
	ctxDone := ctx.Done()
	for {
		select {
		case ev := <-s.events:
			s.handle(ctx, ev)
		case <-ctxDone:
			ctxDone = nil
			s.handle(ctx, event{kind: evContextDone, err: ctx.Err()})
		case <-s.closing:
			return
		}
	}
}

func (s *Session) handle(ctx context.Context, ev event) {
	if s.currentState() == checkout.StateTerminal {
		return
	}
	switch ev.kind {
	case evStart:
		s.onStart(ctx)
	case evDraftCreated:
		s.onDraftCreated(ctx, ev)
	case evProducerData:
		s.onProducerData(ctx, ev)
	case evBridge:
		s.onBridgeEvent(ctx, ev.bridgeEvent)
	case evSubmitResult:
		s.onSubmitResult(ctx, ev)
	case evVerdict:
		s.onVerdict(ev.verdict)
	case evUserCancel:
		s.onCancel(ctx, nil)
	case evPageTimeout:
		s.onCancel(ctx, ErrPageTimeout)
	case evContextDone:
		s.onCancel(ctx, ev.err)
	}
}

func (s *Session) onStart(ctx context.Context) {
	draftReq, err := requestbuilder.FromCheckoutRequest(s.req)
	if err != nil {
		s.finalize(checkout.Completion{Outcome: checkout.OutcomeFailure, Err: err})
		return
	}
	s.setState(checkout.StateCreatingDraftOrder)
	go func() {
		draft, err := s.deps.Transport.CreateDraftOrder(ctx, draftReq)
		s.post(event{kind: evDraftCreated, draft: draft, err: err})
	}()
}

func (s *Session) onDraftCreated(ctx context.Context, ev event) {
	if s.currentState() != checkout.StateCreatingDraftOrder {
		return
	}
	if ev.err != nil {
		s.finalize(checkout.Completion{Outcome: checkout.OutcomeFailure, Err: ev.err})
		return
	}

	s.mu.Lock()
	s.draftOrderID = ev.draft.DraftOrderID
	s.mu.Unlock()
	s.logger = s.logger.With(zap.Int64("draft_order_id", ev.draft.DraftOrderID))

	if !ev.draft.RequiresPayment() {
		id := *ev.draft.BusinessOrderID
		s.markResolved(id)
		s.finalize(checkout.Completion{Outcome: checkout.OutcomeSuccess, BusinessOrderID: checkout.OrderID(id)})
		return
	}

	producerReq, err := requestbuilder.BuildProducerRequest(ev.draft.DraftOrderID, s.req.GatewayType)
	if err != nil {
		s.finalize(checkout.Completion{Outcome: checkout.OutcomeFailure, Err: err})
		return
	}
	s.setState(checkout.StateFetchingProducerData)
	go func() {
		data, err := s.deps.Transport.GetProducerData(ctx, producerReq)
		s.post(event{kind: evProducerData, data: data, err: err})
	}()
}

func (s *Session) onProducerData(ctx context.Context, ev event) {
	if s.currentState() != checkout.StateFetchingProducerData {
		return
	}
	if ev.err != nil {
		s.finalize(checkout.Completion{Outcome: checkout.OutcomeFailure, Err: ev.err})
		return
	}

	surface, err := s.deps.NewSurface(s.id)
	if err != nil {
		s.finalize(checkout.Completion{Outcome: checkout.OutcomeFailure, Err: fmt.Errorf("session: create surface: %w", err)})
		return
	}
	opts := []bridge.Option{bridge.WithLogger(s.logger)}
	if s.decider != nil {
		opts = append(opts, bridge.WithPolicyDecider(s.decider))
	}
	b := bridge.New(surface, func(bev bridge.Event) {
		s.post(event{kind: evBridge, bridgeEvent: bev})
	}, opts...)

	s.mu.Lock()
	s.bridge = b
	s.mu.Unlock()
	s.setState(checkout.StatePresentingPage)

	if s.pageTimeout > 0 {
		s.pageTimer = time.AfterFunc(s.pageTimeout, func() { s.post(event{kind: evPageTimeout}) })
	}

	// Load failures come back through the bridge as CancelledOrFailed.
	data := ev.data
	go func() {
		if err := b.Load(ctx, data); err != nil {
			s.logger.Warn("hosted page failed to load", zap.Error(err))
		}
	}()
}

func (s *Session) onBridgeEvent(ctx context.Context, bev bridge.Event) {
	bridgeEventsTotal.WithLabelValues(bev.Kind.String()).Inc()
	state := s.currentState()

	switch bev.Kind {
	case bridge.EventStarted:
		if state == checkout.StatePresentingPage {
			s.setState(checkout.StateAwaitingConsumerResult)
		}
	case bridge.EventFinished:
		s.logger.Debug("hosted page finished", zap.String("url", bev.URL))
	case bridge.EventFailed:
		s.logger.Info("hosted page navigation failed", zap.String("url", bev.URL), zap.Error(bev.Err))
	case bridge.EventScriptMessage:
		if !awaitingPage(state) || s.submitting {
			s.logger.Debug("script message dropped", zap.Stringer("state", state))
			return
		}
		s.submit(ctx, bev.Message)
	case bridge.EventParseFailure:
		if !awaitingPage(state) {
			return
		}
		s.beginReconcile(ctx, bev.Err)
	case bridge.EventCancelledOrFailed:
		if !awaitingPage(state) {
			return
		}
		s.beginReconcile(ctx, bev.Err)
	}
}

func (s *Session) submit(ctx context.Context, msg checkout.BridgeMessage) {
	s.submitting = true
	s.setState(checkout.StateAwaitingConsumerResult)
	draftID := s.DraftOrderID()

	// The message may describe a captured charge; leaving the session must
	// not abort its submission.
	submitCtx := context.WithoutCancel(ctx)
	go func() {
		result, err := s.deps.Transport.SubmitConsumerData(submitCtx, draftID, msg)
		s.post(event{kind: evSubmitResult, result: result, err: err})
	}()
}

func (s *Session) onSubmitResult(ctx context.Context, ev event) {
	s.submitting = false
	state := s.currentState()

	if ev.err == nil && ev.result.Success && ev.result.BusinessOrderID != nil {
		id := *ev.result.BusinessOrderID
		s.markResolved(id)
		if state == checkout.StateReconciling {
			s.logger.Info("consumer success arrived during reconciliation")
		}
		s.finalize(checkout.Completion{Outcome: checkout.OutcomeSuccess, BusinessOrderID: checkout.OrderID(id)})
		return
	}
	if state != checkout.StateAwaitingConsumerResult && state != checkout.StatePresentingPage {
		return
	}

	var known error
	switch {
	case ev.err != nil:
		known = ev.err
	case ev.result.Success:
		known = checkout.ErrMissingOrderID
	case ev.result.Message != nil && *ev.result.Message != "":
		known = &checkout.GatewayError{Message: *ev.result.Message}
	default:
		known = checkout.ErrGatewayDeclined
	}
	s.beginReconcile(ctx, known)
}

func (s *Session) onCancel(ctx context.Context, known error) {
	switch state := s.currentState(); state {
	case checkout.StateIdle, checkout.StateCreatingDraftOrder, checkout.StateFetchingProducerData:
		// Nothing has been shown to the customer, so no charge can exist.
		if known != nil {
			s.finalize(checkout.Completion{Outcome: checkout.OutcomeFailure, Err: known})
			return
		}
		s.finalize(checkout.Completion{Outcome: checkout.OutcomeCancelled})
	case checkout.StatePresentingPage, checkout.StateAwaitingConsumerResult:
		s.beginReconcile(ctx, known)
	}
}

// beginReconcile moves to Reconciling at most once per session.
func (s *Session) beginReconcile(ctx context.Context, known error) {
	if s.reconcileQueued {
		return
	}
	s.reconcileQueued = true
	s.stopPageTimer()
	s.setState(checkout.StateReconciling)
	s.logger.Info("ambiguous termination, reconciling",
		zap.String("error_kind", checkout.Kind(known)), zap.Error(known))

	req := reconciler.Request{
		DraftOrderID: s.DraftOrderID(),
		GatewayType:  s.req.GatewayType,
		StoreID:      s.req.StoreID,
		KnownError:   known,
		Resolved:     s.resolvedProbe,
	}
	// The grace wait must elapse in full even when ctx is what ended the page.
	rctx := context.WithoutCancel(ctx)
	go func() {
		verdict := s.deps.Reconciler.Adjudicate(rctx, req)
		s.post(event{kind: evVerdict, verdict: verdict})
	}()
}

func (s *Session) onVerdict(v reconciler.Verdict) {
	if s.currentState() != checkout.StateReconciling {
		return
	}
	s.mu.Lock()
	s.reconciled = true
	s.source = v.Source
	s.mu.Unlock()
	s.finalize(v.Completion())
}

func (s *Session) finalize(c checkout.Completion) {
	s.mu.Lock()
	if s.state == checkout.StateTerminal {
		s.mu.Unlock()
		return
	}
	s.state = checkout.StateTerminal
	s.completion = c
	s.finishedAt = time.Now()
	b := s.bridge
	elapsed := s.finishedAt.Sub(s.startedAt)
	s.mu.Unlock()

	s.stopPageTimer()
	close(s.closing)
	if b != nil {
		if err := b.Close(); err != nil {
			s.logger.Warn("bridge teardown failed", zap.Error(err))
		}
	}

	sessionsCompletedTotal.WithLabelValues(c.Outcome.String()).Inc()
	sessionDuration.Observe(elapsed.Seconds())
	fields := []zap.Field{zap.Stringer("outcome", c.Outcome), zap.Duration("elapsed", elapsed)}
	if c.BusinessOrderID != nil {
		fields = append(fields, zap.Int64("business_order_id", *c.BusinessOrderID))
	}
	if c.Err != nil {
		fields = append(fields, zap.String("error_kind", checkout.Kind(c.Err)), zap.Error(c.Err))
	}
	s.logger.Info("checkout session finished", fields...)

	if s.span != nil {
		s.span.SetAttributes(attribute.String("outcome", c.Outcome.String()))
		if c.Outcome == checkout.OutcomeFailure {
			s.span.SetStatus(codes.Error, checkout.UserMessage(c.Err))
		}
		s.span.End()
	}

	if s.onComplete != nil {
		s.onComplete(c)
	}
	close(s.done)
}

func (s *Session) markResolved(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolvedID == nil {
		s.resolvedID = checkout.OrderID(id)
	}
}

func (s *Session) resolvedProbe() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.resolvedID == nil {
		return 0, false
	}
	return *s.resolvedID, true
}

func (s *Session) currentState() checkout.SessionState {
	return s.State()
}

func (s *Session) setState(next checkout.SessionState) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	if prev != next {
		s.logger.Debug("state transition", zap.Stringer("from", prev), zap.Stringer("to", next))
	}
}

func (s *Session) stopPageTimer() {
	if s.pageTimer != nil {
		s.pageTimer.Stop()
		s.pageTimer = nil
	}
}

func awaitingPage(state checkout.SessionState) bool {
	return state == checkout.StatePresentingPage || state == checkout.StateAwaitingConsumerResult
}
