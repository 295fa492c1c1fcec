package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	clientsmongo "goa.design/relay/features/eventlog/mongo/clients/mongo"
	"goa.design/relay/runtime/relay/stream"
)

// Log implements stream.Sink by appending event envelopes to MongoDB.
type Log struct {
	client clientsmongo.Client
	now    func() time.Time
}

var _ stream.Sink = (*Log)(nil)

// NewLog builds a Mongo-backed event log using the provided client.
func NewLog(client clientsmongo.Client) (*Log, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Log{client: client, now: time.Now}, nil
}

// Name returns the health check name of the underlying client.
func (l *Log) Name() string { return l.client.Name() }

// Ping checks the underlying client.
func (l *Log) Ping(ctx context.Context) error { return l.client.Ping(ctx) }

// Send implements stream.Sink.
func (l *Log) Send(ctx context.Context, event stream.Event) error {
	payload, err := stream.Encode(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.Type(), err)
	}
	m := event.Meta()
	_, err = l.client.Append(ctx, clientsmongo.Entry{
		UserID:    m.UserID,
		TurnID:    m.TurnID,
		Seq:       m.Seq,
		Type:      string(event.Type()),
		Payload:   payload,
		Timestamp: l.now(),
	})
	return err
}

// Close implements stream.Sink. The Mongo connection is owned by the caller.
func (l *Log) Close(context.Context) error { return nil }

// Events returns up to limit events of userID stored after cursor and the
// cursor of the next page, empty on the last page.
func (l *Log) Events(ctx context.Context, userID, cursor string, limit int) ([]stream.Event, string, error) {
	page, err := l.client.List(ctx, userID, cursor, limit)
	if err != nil {
		return nil, "", err
	}
	out := make([]stream.Event, 0, len(page.Entries))
	for _, e := range page.Entries {
		ev, err := stream.Decode(e.Payload)
		if err != nil {
			return nil, "", fmt.Errorf("entry %s: %w", e.ID, err)
		}
		out = append(out, ev)
	}
	return out, page.NextCursor, nil
}
