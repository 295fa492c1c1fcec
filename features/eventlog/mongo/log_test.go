package mongo

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientsmongo "goa.design/relay/features/eventlog/mongo/clients/mongo"
	"goa.design/relay/runtime/relay/stream"
)

type memClient struct {
	entries []clientsmongo.Entry
	err     error
}

func (c *memClient) Name() string               { return "mem" }
func (c *memClient) Ping(context.Context) error { return nil }

func (c *memClient) Append(_ context.Context, e clientsmongo.Entry) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	e.ID = strconv.Itoa(len(c.entries) + 1)
	c.entries = append(c.entries, e)
	return e.ID, nil
}

func (c *memClient) List(_ context.Context, userID, cursor string, limit int) (clientsmongo.Page, error) {
	var page clientsmongo.Page
	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return page, err
		}
		start = n
	}
	for _, e := range c.entries[start:] {
		if e.UserID != userID {
			continue
		}
		if len(page.Entries) == limit {
			page.NextCursor = page.Entries[limit-1].ID
			break
		}
		page.Entries = append(page.Entries, e)
	}
	return page, nil
}

func TestLogRoundTripsEvents(t *testing.T) {
	client := &memClient{}
	l, err := NewLog(client)
	require.NoError(t, err)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.now = func() time.Time { return at }

	ctx := context.Background()
	sent := []stream.Event{
		stream.AgentSwitched{Base: stream.Base{TurnID: "t1", UserID: "ada", Seq: 1}, To: "Triage_Agent"},
		stream.ToolCallFinished{Base: stream.Base{TurnID: "t1", UserID: "ada", Seq: 2}, Name: "search_web", Result: "[]"},
		stream.MessageProduced{Base: stream.Base{TurnID: "t1", UserID: "ada", Seq: 3}, Text: "done"},
	}
	for _, e := range sent {
		require.NoError(t, l.Send(ctx, e))
	}
	require.Len(t, client.entries, 3)
	assert.Equal(t, "tool_call_finished", client.entries[1].Type)
	assert.Equal(t, 2, client.entries[1].Seq)
	assert.Equal(t, at, client.entries[0].Timestamp)

	got, next, err := l.Events(ctx, "ada", "", 2)
	require.NoError(t, err)
	assert.Equal(t, sent[:2], got)
	require.NotEmpty(t, next)

	got, next, err = l.Events(ctx, "ada", next, 2)
	require.NoError(t, err)
	assert.Equal(t, sent[2:], got)
	assert.Empty(t, next)
}

func TestLogSendPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	l, err := NewLog(&memClient{err: boom})
	require.NoError(t, err)
	err = l.Send(context.Background(), stream.MessageProduced{Base: stream.Base{UserID: "ada"}, Text: "x"})
	assert.ErrorIs(t, err, boom)
}

func TestLogEventsRejectsCorruptEntries(t *testing.T) {
	client := &memClient{entries: []clientsmongo.Entry{{ID: "1", UserID: "ada", Type: "x", Payload: []byte("{")}}}
	l, err := NewLog(client)
	require.NoError(t, err)
	_, _, err = l.Events(context.Background(), "ada", "", 10)
	assert.ErrorContains(t, err, "entry 1")
}

func TestNewLogRequiresClient(t *testing.T) {
	_, err := NewLog(nil)
	assert.Error(t, err)
}
