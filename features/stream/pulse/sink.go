// Package pulse mirrors relay turn events onto goa.design/pulse streams so
// other processes can follow a session live.
package pulse

import (
	"context"
	"errors"

	"goa.design/relay/features/stream/pulse/clients/pulse"
	"goa.design/relay/runtime/relay/stream"
)

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client publishes the events. Required.
		Client pulse.Client
		// StreamID derives the target stream of an event. Defaults to
		// StreamName of the event user id.
		StreamID func(stream.Event) (string, error)
		// OnPublished is invoked after each successful Add.
		OnPublished func(ctx context.Context, ev PublishedEvent) error
	}

	// PublishedEvent describes an event written to Pulse.
	PublishedEvent struct {
		Event    stream.Event
		StreamID string
		EntryID  string
	}

	// Sink implements stream.Sink on Pulse. Safe for concurrent use.
	Sink struct {
		client      pulse.Client
		streamID    func(stream.Event) (string, error)
		onPublished func(context.Context, PublishedEvent) error
	}
)

// StreamName returns the stream carrying the events of userID.
func StreamName(userID string) string {
	return "relay/" + userID
}

// NewSink returns a sink publishing through opts.Client.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Sink{client: opts.Client, streamID: defaultStreamID, onPublished: opts.OnPublished}
	if opts.StreamID != nil {
		s.streamID = opts.StreamID
	}
	return s, nil
}

// Send publishes the envelope of event under its type name.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	id, err := s.streamID(event)
	if err != nil {
		return err
	}
	str, err := s.client.Stream(id)
	if err != nil {
		return err
	}
	payload, err := stream.Encode(event)
	if err != nil {
		return err
	}
	entry, err := str.Add(ctx, string(event.Type()), payload)
	if err != nil {
		return err
	}
	if s.onPublished != nil {
		return s.onPublished(ctx, PublishedEvent{Event: event, StreamID: id, EntryID: entry})
	}
	return nil
}

// Close releases the underlying client.
func (s *Sink) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func defaultStreamID(event stream.Event) (string, error) {
	uid := event.Meta().UserID
	if uid == "" {
		return "", errors.New("stream event missing user id")
	}
	return StreamName(uid), nil
}
