package runtime

import (
	"errors"
	"fmt"

	"goa.design/relay/runtime/relay"
	"goa.design/relay/runtime/relay/guardrail"
)

type (
	// GuardrailRejectedError reports a definitive guardrail rejection. It is
	// fatal to the turn and harmless to the session.
	GuardrailRejectedError struct {
		Stage     relay.Ident
		Direction guardrail.Direction
		Reason    string
		Verdict   guardrail.Verdict
	}

	// InvalidHandoffTargetError reports a stage output naming a handoff the
	// stage did not declare.
	InvalidHandoffTargetError struct {
		Stage     relay.Ident
		Requested string
	}

	// PersistenceError reports a failed checkpoint. The turn never proceeds as
	// if the write happened.
	PersistenceError struct {
		SessionID string
		Cause     error
	}

	// UpstreamModelError reports a failed model call.
	UpstreamModelError struct {
		Stage relay.Ident
		Cause error
	}

	// TimeoutError reports an external call that exceeded its deadline.
	TimeoutError struct {
		// Op is the call type: "model", "tool", "guardrail" or "stage".
		Op    string
		Stage relay.Ident
		Cause error
	}
)

// User-facing messages.
const (
	MessageInputRejected  = "Input flagged by guardrail. Please rephrase your request."
	MessageOutputRejected = "Output flagged by guardrail. Please try again later."
	MessageFailed         = "Something went wrong while handling your request. Please try again."
)

var (
	// ErrAbandoned indicates the consumer stopped reading the event stream
	// before the turn reached a terminal state.
	ErrAbandoned = errors.New("turn abandoned by consumer")
	// ErrHopLimit indicates a turn visited more stages than the registry holds.
	ErrHopLimit = errors.New("handoff hop limit exceeded")
)

func (e *GuardrailRejectedError) Error() string {
	return fmt.Sprintf("guardrail %s rejected %s %s: %s", e.Verdict.Check, e.Stage, e.Direction, e.Reason)
}

func (e *InvalidHandoffTargetError) Error() string {
	return fmt.Sprintf("stage %s requested undeclared handoff %q", e.Stage, e.Requested)
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint session %s: %v", e.SessionID, e.Cause)
}

func (e *PersistenceError) Unwrap() error { return e.Cause }

func (e *UpstreamModelError) Error() string {
	return fmt.Sprintf("model call for stage %s failed: %v", e.Stage, e.Cause)
}

func (e *UpstreamModelError) Unwrap() error { return e.Cause }

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s call for stage %s timed out: %v", e.Op, e.Stage, e.Cause)
}

func (e *TimeoutError) Unwrap() error { return e.Cause }

// UserMessage returns the message shown to the user for o.
func UserMessage(o Outcome) string {
	switch o.State {
	case StateCompleted:
		return o.Reply
	case StateRejected:
		var rej *GuardrailRejectedError
		if errors.As(o.Err, &rej) && rej.Direction == guardrail.DirectionOutput {
			return MessageOutputRejected
		}
		return MessageInputRejected
	default:
		return MessageFailed
	}
}
