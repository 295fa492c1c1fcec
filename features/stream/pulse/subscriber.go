package pulse

import (
	"context"
	"errors"
	"fmt"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/relay/features/stream/pulse/clients/pulse"
	"goa.design/relay/runtime/relay/stream"
)

type (
	// SubscriberOptions configures a Subscriber.
	SubscriberOptions struct {
		// Client reads the streams. Required.
		Client clientspulse.Client
		// SinkName is the consumer group name. Defaults to "relay_watch".
		SinkName string
		// Buffer is the event channel capacity. Defaults to 64.
		Buffer int
	}

	// Subscriber decodes relay events read from Pulse streams.
	Subscriber struct {
		client clientspulse.Client
		name   string
		buffer int
	}
)

// NewSubscriber returns a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	s := &Subscriber{client: opts.Client, name: opts.SinkName, buffer: opts.Buffer}
	if s.name == "" {
		s.name = "relay_watch"
	}
	if s.buffer <= 0 {
		s.buffer = 64
	}
	return s, nil
}

// Subscribe follows streamID. The returned cancel function stops consumption,
// closes the consumer group and both channels. At most one error is delivered
// before the channels close.
func (s *Subscriber) Subscribe(ctx context.Context, streamID string, opts ...streamopts.Sink) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan stream.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	go consume(runCtx, sink, events, errs)
	return events, errs, func() {
		cancel()
		sink.Close(context.Background())
	}, nil
}

func consume(ctx context.Context, sink clientspulse.Sink, out chan<- stream.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := stream.Decode(evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if err := sink.Ack(ctx, evt); err != nil {
				errs <- fmt.Errorf("pulse ack: %w", err)
				return
			}
		}
	}
}
