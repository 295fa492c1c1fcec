package pulse

import (
	"context"
	"sync"

	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "goa.design/relay/features/stream/pulse/clients/pulse"
)

type (
	fakeClient struct {
		streams   map[string]*fakeStream
		streamErr error
		closed    bool
	}

	fakeStream struct {
		mu     sync.Mutex
		added  []added
		addErr error
		sink   *fakeSink
	}

	added struct {
		event   string
		payload []byte
	}

	fakeSink struct {
		ch     chan *streaming.Event
		mu     sync.Mutex
		acked  []string
		ackErr error
		closed bool
	}
)

func newFakeClient() *fakeClient {
	return &fakeClient{streams: make(map[string]*fakeStream)}
}

func (c *fakeClient) Stream(name string) (clientspulse.Stream, error) {
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(context.Context) error {
	c.closed = true
	return nil
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return "", s.addErr
	}
	s.added = append(s.added, added{event: event, payload: payload})
	return "1-0", nil
}

func (s *fakeStream) NewSink(context.Context, string, ...streamopts.Sink) (clientspulse.Sink, error) {
	return s.sink, nil
}

func (s *fakeSink) Subscribe() <-chan *streaming.Event { return s.ch }

func (s *fakeSink) Ack(_ context.Context, evt *streaming.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acked = append(s.acked, evt.ID)
	return s.ackErr
}

func (s *fakeSink) Close(context.Context) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
