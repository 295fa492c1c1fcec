// Package stream defines the closed set of Run Events produced by the
// orchestrator for one turn and the Sink contract used to mirror them onto a
// transport.
//
// Event is a sealed interface: only the variants declared in this package
// implement it, so consumers can switch exhaustively on the concrete type.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
)

type (
	// Event is one Run Event. Events of a turn carry strictly increasing Seq
	// values starting at 1.
	Event interface {
		// Type returns the variant tag.
		Type() EventType
		// Meta returns the turn metadata.
		Meta() Base

		sealed()
	}

	// EventType tags event variants on the wire.
	EventType string

	// Base carries the metadata shared by every variant.
	Base struct {
		TurnID string `json:"turn_id"`
		UserID string `json:"user_id"`
		Seq    int    `json:"seq"`
	}

	// AgentSwitched reports a transition of control to a stage. From is empty
	// for the entry stage of a turn.
	AgentSwitched struct {
		Base
		From    string `json:"from,omitempty"`
		To      string `json:"to"`
		Handoff string `json:"handoff,omitempty"`
	}

	// ToolCallStarted reports the start of a capability call.
	ToolCallStarted struct {
		Base
		Name string          `json:"name"`
		Args json.RawMessage `json:"args,omitempty"`
	}

	// ToolCallFinished reports the end of a capability call. Err is set when the
	// call failed.
	ToolCallFinished struct {
		Base
		Name   string `json:"name"`
		Result string `json:"result,omitempty"`
		Err    string `json:"error,omitempty"`
	}

	// MessageProduced carries the terminal reply of a completed turn.
	MessageProduced struct {
		Base
		Text string `json:"text"`
	}

	// RunFailed reports a turn ending Rejected or Failed. Reason is the
	// user-facing message; Detail is the guardrail reasoning of a rejection;
	// Err is the diagnostic cause.
	RunFailed struct {
		Base
		Outcome string `json:"outcome"`
		Reason  string `json:"reason"`
		Detail  string `json:"detail,omitempty"`
		Err     string `json:"error,omitempty"`
	}

	// Sink delivers events to a transport (message bus, SSE, logs).
	// Implementations must be safe for concurrent use.
	Sink interface {
		// Send publishes an event.
		Send(ctx context.Context, event Event) error
		// Close releases resources owned by the sink. Close is idempotent.
		Close(ctx context.Context) error
	}

	// Envelope is the JSON wire form of an event.
	Envelope struct {
		Type    EventType       `json:"type"`
		TurnID  string          `json:"turn_id"`
		UserID  string          `json:"user_id"`
		Seq     int             `json:"seq"`
		Payload json.RawMessage `json:"payload"`
	}
)

const (
	TypeAgentSwitched    EventType = "agent_switched"
	TypeToolCallStarted  EventType = "tool_call_started"
	TypeToolCallFinished EventType = "tool_call_finished"
	TypeMessageProduced  EventType = "message_produced"
	TypeRunFailed        EventType = "run_failed"
)

func (b Base) Meta() Base { return b }

func (AgentSwitched) Type() EventType    { return TypeAgentSwitched }
func (ToolCallStarted) Type() EventType  { return TypeToolCallStarted }
func (ToolCallFinished) Type() EventType { return TypeToolCallFinished }
func (MessageProduced) Type() EventType  { return TypeMessageProduced }
func (RunFailed) Type() EventType        { return TypeRunFailed }

func (AgentSwitched) sealed()    {}
func (ToolCallStarted) sealed()  {}
func (ToolCallFinished) sealed() {}
func (MessageProduced) sealed()  {}
func (RunFailed) sealed()        {}

// Encode marshals e into its envelope.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	m := e.Meta()
	return json.Marshal(Envelope{
		Type:    e.Type(),
		TurnID:  m.TurnID,
		UserID:  m.UserID,
		Seq:     m.Seq,
		Payload: payload,
	})
}

// Decode parses an envelope produced by Encode back into its variant.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	var (
		e   Event
		err error
	)
	switch env.Type {
	case TypeAgentSwitched:
		e, err = decodeAs[AgentSwitched](env.Payload)
	case TypeToolCallStarted:
		e, err = decodeAs[ToolCallStarted](env.Payload)
	case TypeToolCallFinished:
		e, err = decodeAs[ToolCallFinished](env.Payload)
	case TypeMessageProduced:
		e, err = decodeAs[MessageProduced](env.Payload)
	case TypeRunFailed:
		e, err = decodeAs[RunFailed](env.Payload)
	default:
		return nil, fmt.Errorf("decode envelope: unknown event type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return e, nil
}

func decodeAs[T Event](payload json.RawMessage) (Event, error) {
	var v T
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, err
	}
	return v, nil
}
