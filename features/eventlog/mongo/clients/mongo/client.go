// Package mongo implements the low-level MongoDB client used by the turn event
// log.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"
)

type (
	// Client exposes Mongo-backed operations for the turn event log.
	Client interface {
		health.Pinger

		// Append stores e and returns its assigned id.
		Append(ctx context.Context, e Entry) (string, error)
		// List returns up to limit entries of userID stored after cursor, in
		// insertion order.
		List(ctx context.Context, userID string, cursor string, limit int) (Page, error)
	}

	// Entry is one stored event envelope.
	Entry struct {
		ID        string
		UserID    string
		TurnID    string
		Seq       int
		Type      string
		Payload   []byte
		Timestamp time.Time
	}

	// Page is one slice of the log. NextCursor is empty on the last page.
	Page struct {
		Entries    []Entry
		NextCursor string
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	entryDocument struct {
		ID        bson.ObjectID `bson:"_id,omitempty"`
		UserID    string        `bson:"user_id"`
		TurnID    string        `bson:"turn_id"`
		Seq       int           `bson:"seq"`
		Type      string        `bson:"type"`
		Payload   []byte        `bson:"payload"`
		Timestamp time.Time     `bson:"timestamp"`
	}
)

const (
	defaultCollection = "relay_turn_events"
	defaultTimeout    = 5 * time.Second
	clientName        = "eventlog-mongo"
)

// New returns a Client backed by the provided MongoDB client.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	wrapper := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := wrapper.EnsureIndex(ctx); err != nil {
		return nil, fmt.Errorf("ensure event log index: %w", err)
	}
	return newClientWithCollection(opts.Client, wrapper, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	if c.mongo == nil {
		return errors.New("mongo client not connected")
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) Append(ctx context.Context, e Entry) (string, error) {
	switch {
	case e.UserID == "":
		return "", errors.New("user id is required")
	case e.Type == "":
		return "", errors.New("event type is required")
	case e.Timestamp.IsZero():
		return "", errors.New("timestamp is required")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := entryDocument{
		UserID:    e.UserID,
		TurnID:    e.TurnID,
		Seq:       e.Seq,
		Type:      e.Type,
		Payload:   append([]byte(nil), e.Payload...),
		Timestamp: e.Timestamp.UTC(),
	}
	id, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	oid, ok := id.(bson.ObjectID)
	if !ok {
		return "", fmt.Errorf("unexpected inserted id type %T", id)
	}
	return oid.Hex(), nil
}

func (c *client) List(ctx context.Context, userID string, cursor string, limit int) (page Page, err error) {
	if userID == "" {
		return Page{}, errors.New("user id is required")
	}
	if limit <= 0 {
		return Page{}, errors.New("limit must be > 0")
	}

	filter := bson.M{"user_id": userID}
	if cursor != "" {
		oid, err := bson.ObjectIDFromHex(cursor)
		if err != nil {
			return Page{}, fmt.Errorf("invalid cursor %q: %w", cursor, err)
		}
		filter["_id"] = bson.M{"$gt": oid}
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	cur, err := c.coll.Find(ctx, filter, int64(limit+1))
	if err != nil {
		return Page{}, err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var entries []Entry
	for cur.Next(ctx) {
		var doc entryDocument
		if err := cur.Decode(&doc); err != nil {
			return Page{}, err
		}
		entries = append(entries, Entry{
			ID:        doc.ID.Hex(),
			UserID:    doc.UserID,
			TurnID:    doc.TurnID,
			Seq:       doc.Seq,
			Type:      doc.Type,
			Payload:   append([]byte(nil), doc.Payload...),
			Timestamp: doc.Timestamp.UTC(),
		})
	}
	if err := cur.Err(); err != nil {
		return Page{}, err
	}

	var next string
	if len(entries) > limit {
		next = entries[limit-1].ID
		entries = entries[:limit]
	}
	return Page{Entries: entries, NextCursor: next}, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{mongo: mongoClient, coll: coll, timeout: timeout}, nil
}

// collection is the subset of *mongodriver.Collection used by the client.
type collection interface {
	// InsertOne inserts doc and returns its _id.
	InsertOne(ctx context.Context, doc any) (any, error)
	// Find returns at most limit documents matching filter sorted by _id.
	Find(ctx context.Context, filter any, limit int64) (cursor, error)
	EnsureIndex(ctx context.Context) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any) (any, error) {
	res, err := c.coll.InsertOne(ctx, doc)
	if err != nil {
		return nil, err
	}
	return res.InsertedID, nil
}

func (c mongoCollection) Find(ctx context.Context, filter any, limit int64) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) EnsureIndex(ctx context.Context) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "_id", Value: 1},
		},
	})
	return err
}
