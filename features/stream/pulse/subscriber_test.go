package pulse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"goa.design/pulse/streaming"

	"goa.design/relay/runtime/relay/stream"
)

func TestSubscribeEmitsEvents(t *testing.T) {
	fs := &fakeSink{ch: make(chan *streaming.Event, 2)}
	cli := newFakeClient()
	cli.streams["relay/ada"] = &fakeStream{sink: fs}

	sub, err := NewSubscriber(SubscriberOptions{Client: cli, Buffer: 2})
	require.NoError(t, err)
	events, errs, cancel, err := sub.Subscribe(context.Background(), StreamName("ada"))
	require.NoError(t, err)

	want := stream.AgentSwitched{Base: stream.Base{TurnID: "t1", UserID: "ada", Seq: 1}, To: "Triage_Agent"}
	payload, err := stream.Encode(want)
	require.NoError(t, err)
	fs.ch <- &streaming.Event{ID: "1-0", Payload: payload}
	close(fs.ch)

	got, ok := <-events
	require.True(t, ok)
	require.Equal(t, want, got)

	_, ok = <-events
	require.False(t, ok)
	_, ok = <-errs
	require.False(t, ok)
	cancel()

	fs.mu.Lock()
	defer fs.mu.Unlock()
	require.Equal(t, []string{"1-0"}, fs.acked)
	require.True(t, fs.closed)
}

func TestSubscribeReportsDecodeErrors(t *testing.T) {
	fs := &fakeSink{ch: make(chan *streaming.Event, 1)}
	cli := newFakeClient()
	cli.streams["relay/ada"] = &fakeStream{sink: fs}
	sub, err := NewSubscriber(SubscriberOptions{Client: cli})
	require.NoError(t, err)

	_, errs, cancel, err := sub.Subscribe(context.Background(), "relay/ada")
	require.NoError(t, err)
	defer cancel()

	fs.ch <- &streaming.Event{ID: "1-0", Payload: []byte("not json")}
	err = <-errs
	require.ErrorContains(t, err, "pulse decode payload")
}

func TestNewSubscriberRequiresClient(t *testing.T) {
	_, err := NewSubscriber(SubscriberOptions{})
	require.Error(t, err)
}
