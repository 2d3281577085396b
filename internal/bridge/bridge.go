// Package bridge wraps the embedded browser surface that renders the hosted
// payment page. It reports navigation lifecycle, answers navigation policy
// questions and forwards script messages to its owner without interpreting
// them. The bridge never decides whether a payment happened.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/monitor"
)

// ErrClosed is returned by Load once the bridge has been torn down.
var ErrClosed = errors.New("bridge: closed")

// Surface is the embedded browser that actually renders the page.
type Surface interface {
	Load(ctx context.Context, data checkout.ProducerData) error
	Close() error
}

// EventKind enumerates what the bridge reports to its owner.
type EventKind int

const (
	EventStarted EventKind = iota + 1
	EventFinished
	EventFailed
	EventScriptMessage
	EventParseFailure
	EventCancelledOrFailed
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventFinished:
		return "finished"
	case EventFailed:
		return "failed"
	case EventScriptMessage:
		return "script_message"
	case EventParseFailure:
		return "parse_failure"
	case EventCancelledOrFailed:
		return "cancelled_or_failed"
	default:
		return "unknown"
	}
}

// Event is a single notification from the bridge. Err is the transport error
// for Failed, the parse error for ParseFailure and the optional known error
// for CancelledOrFailed (nil on a plain user cancel).
type Event struct {
	Kind    EventKind
	URL     string
	Message checkout.BridgeMessage
	Err     error
}

// Navigation describes a top-level navigation or response the surface is about to follow.
type Navigation struct {
	URL        string
	IsResponse bool
}

// Policy is the answer to a navigation question.
type Policy int

const (
	PolicyAllow Policy = iota
	PolicyCancel
)

// PolicyDecider chooses whether a navigation may proceed.
type PolicyDecider func(Navigation) Policy

// AllowAll is the default decider; gateway redirects are never intercepted.
func AllowAll(Navigation) Policy { return PolicyAllow }

// Option configures a Bridge.
type Option func(*Bridge)

// WithPolicyDecider installs a navigation decider.
func WithPolicyDecider(d PolicyDecider) Option {
	return func(b *Bridge) {
		if d != nil {
			b.decide = d
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

var payloadContract = monitor.MustContractMonitor(monitor.BridgePayloadSchema)

// Bridge connects one Surface to one owner. Events are delivered to the sink
// one at a time in arrival order; after Close every handler is a no-op.
type Bridge struct {
	surface Surface
	sink    func(Event)
	decide  PolicyDecider
	logger  *zap.Logger

	deliverMu      sync.Mutex
	closed         atomic.Bool
	closeOnce      sync.Once
	terminatedOnce sync.Once
}

// New creates a Bridge over surface that reports to sink.
func New(surface Surface, sink func(Event), opts ...Option) *Bridge {
	if surface == nil {
		panic("surface cannot be nil")
	}
	if sink == nil {
		panic("sink cannot be nil")
	}
	b := &Bridge{
		surface: surface,
		sink:    sink,
		decide:  AllowAll,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load hands the producer payload to the surface. A load failure is reported
// to the owner as CancelledOrFailed and also returned.
func (b *Bridge) Load(ctx context.Context, data checkout.ProducerData) error {
	if b.closed.Load() {
		return ErrClosed
	}
	if err := b.surface.Load(ctx, data); err != nil {
		err = fmt.Errorf("bridge: page load failed: %w", err)
		b.reportTermination(err)
		return err
	}
	return nil
}

// DidStart reports that the page started loading.
func (b *Bridge) DidStart(url string) {
	b.deliver(Event{Kind: EventStarted, URL: url})
}

// DidFinish reports that the page finished loading.
func (b *Bridge) DidFinish(url string) {
	b.deliver(Event{Kind: EventFinished, URL: url})
}

// DidFail reports a navigation transport failure. The failure itself is only
// an observation; the owner also receives the single CancelledOrFailed event.
func (b *Bridge) DidFail(url string, err error) {
	if err == nil {
		err = errors.New("bridge: navigation failed")
	}
	b.deliver(Event{Kind: EventFailed, URL: url, Err: err})
	b.reportTermination(err)
}

// Cancel reports that the user dismissed the page.
func (b *Bridge) Cancel() {
	b.reportTermination(nil)
}

// DecidePolicy answers a navigation question. A closed bridge cancels everything.
func (b *Bridge) DecidePolicy(nav Navigation) Policy {
	if b.closed.Load() {
		return PolicyCancel
	}
	return b.decide(nav)
}

// ReceiveScriptMessage forwards one raw payload from the page script.
func (b *Bridge) ReceiveScriptMessage(raw []byte) {
	msg, err := decodePayload(raw)
	if err != nil {
		b.logger.Warn("bridge payload rejected", zap.Error(err), zap.Int("bytes", len(raw)))
		b.deliver(Event{Kind: EventParseFailure, Err: err})
		return
	}
	b.deliver(Event{Kind: EventScriptMessage, Message: msg})
}

// Close tears the surface down. It is safe to call more than once.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		err = b.surface.Close()
	})
	return err
}

// Closed reports whether Close has been called.
func (b *Bridge) Closed() bool {
	return b.closed.Load()
}

func (b *Bridge) reportTermination(knownErr error) {
	b.terminatedOnce.Do(func() {
		b.deliver(Event{Kind: EventCancelledOrFailed, Err: knownErr})
	})
}

func (b *Bridge) deliver(ev Event) {
	b.deliverMu.Lock()
	defer b.deliverMu.Unlock()
	if b.closed.Load() {
		b.logger.Debug("dropping event after close", zap.Stringer("event", ev.Kind))
		return
	}
	b.sink(ev)
}

func decodePayload(raw []byte) (checkout.BridgeMessage, error) {
	if !utf8.Valid(raw) {
		return nil, &checkout.StructuralError{Cause: errors.New("payload is not valid UTF-8")}
	}
	valid, violations, err := payloadContract.Validate(raw)
	if err != nil {
		return nil, &checkout.StructuralError{Cause: err}
	}
	if !valid {
		return nil, &checkout.StructuralError{Cause: errors.New(monitor.FormatErrors(violations))}
	}

	// Numbers stay json.Number so large integer references keep every digit.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var msg checkout.BridgeMessage
	if err := dec.Decode(&msg); err != nil {
		return nil, &checkout.StructuralError{Cause: err}
	}
	return msg, nil
}
