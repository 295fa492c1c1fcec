package pulse

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/relay/runtime/relay/stream"
)

func TestSendPublishesEnvelope(t *testing.T) {
	cli := newFakeClient()
	var published PublishedEvent
	sink, err := NewSink(Options{Client: cli, OnPublished: func(_ context.Context, ev PublishedEvent) error {
		published = ev
		return nil
	}})
	require.NoError(t, err)

	ev := stream.MessageProduced{Base: stream.Base{TurnID: "t1", UserID: "ada", Seq: 3}, Text: "hello"}
	require.NoError(t, sink.Send(context.Background(), ev))

	str := cli.streams["relay/ada"]
	require.NotNil(t, str)
	require.Len(t, str.added, 1)
	require.Equal(t, "message_produced", str.added[0].event)
	decoded, err := stream.Decode(str.added[0].payload)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)

	require.Equal(t, "relay/ada", published.StreamID)
	require.Equal(t, "1-0", published.EntryID)
}

func TestSendErrors(t *testing.T) {
	sink, err := NewSink(Options{Client: newFakeClient()})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.MessageProduced{Text: "x"})
	require.EqualError(t, err, "stream event missing user id")

	cli := newFakeClient()
	cli.streamErr = errors.New("boom")
	sink, err = NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.MessageProduced{Base: stream.Base{UserID: "u"}})
	require.EqualError(t, err, "boom")

	cli = newFakeClient()
	cli.streams["relay/u"] = &fakeStream{addErr: errors.New("add-failed")}
	sink, err = NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.MessageProduced{Base: stream.Base{UserID: "u"}})
	require.EqualError(t, err, "add-failed")
}

func TestCustomStreamID(t *testing.T) {
	cli := newFakeClient()
	sink, err := NewSink(Options{Client: cli, StreamID: func(e stream.Event) (string, error) {
		return "custom/" + e.Meta().TurnID, nil
	}})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), stream.AgentSwitched{Base: stream.Base{TurnID: "t9"}, To: "Triage_Agent"}))
	require.Contains(t, cli.streams, "custom/t9")
}

func TestCloseDelegates(t *testing.T) {
	cli := newFakeClient()
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	require.True(t, cli.closed)

	_, err = NewSink(Options{})
	require.Error(t, err)
}
