package session

import (
	"github.com/yourorg/hpp-checkout/internal/bridge"
	"github.com/yourorg/hpp-checkout/internal/checkout"
	"github.com/yourorg/hpp-checkout/internal/reconciler"
)

type eventKind int

const (
	evStart eventKind = iota + 1
	evDraftCreated
	evProducerData
	evBridge
	evSubmitResult
	evVerdict
	evUserCancel
	evPageTimeout
	evContextDone
)

// event is the single input type of the run loop. Only the fields that
// belong to kind are set.
type event struct {
	kind        eventKind
	draft       checkout.DraftOrder
	data        checkout.ProducerData
	bridgeEvent bridge.Event
	result      checkout.ConsumerSubmissionResult
	verdict     reconciler.Verdict
	err         error
}
