// Package mongo hosts the MongoDB client used by the session store.
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

	"goa.design/relay/runtime/relay/session"
)

const (
	defaultCollection = "relay_sessions"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "session-mongo"
)

// ErrConflict indicates the stored snapshot changed between load and replace.
var ErrConflict = errors.New("session snapshot changed concurrently")

type (
	// Client exposes Mongo-backed operations on session snapshots. Each user
	// session is stored as a single document keyed by user_id.
	Client interface {
		health.Pinger

		// LoadContext returns the snapshot of userID or session.ErrNotFound.
		LoadContext(ctx context.Context, userID string) (session.Context, error)
		// ReplaceContext writes c when the stored revision equals prevRevision
		// (zero for a new document). It returns ErrConflict otherwise.
		ReplaceContext(ctx context.Context, c session.Context, prevRevision uint64) error
	}

	// Options configures the Mongo session client.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo    *mongodriver.Client
		sessions collection
		timeout  time.Duration
	}
)

// Dial connects to uri and verifies the deployment is reachable.
func Dial(ctx context.Context, uri string) (*mongodriver.Client, error) {
	cl, err := mongodriver.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := cl.Ping(ctx, readpref.Primary()); err != nil {
		_ = cl.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return cl, nil
}

// New returns a Client backed by MongoDB. It ensures the unique user_id index
// exists.
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
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := coll.EnsureUniqueIndex(ctx, "user_id"); err != nil {
		return nil, fmt.Errorf("ensure session index: %w", err)
	}
	return newClientWithCollection(opts.Client, coll, timeout), nil
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

func (c *client) LoadContext(ctx context.Context, userID string) (session.Context, error) {
	if userID == "" {
		return session.Context{}, session.ErrNotFound
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc session.Context
	if err := c.sessions.FindOne(ctx, bson.M{"user_id": userID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return session.Context{}, session.ErrNotFound
		}
		return session.Context{}, err
	}
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return doc.Clone(), nil
}

func (c *client) ReplaceContext(ctx context.Context, sc session.Context, prevRevision uint64) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"user_id": sc.UserID, "revision": prevRevision}
	if err := c.sessions.ReplaceOne(ctx, filter, sc.Clone()); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrConflict, sc.UserID)
		}
		return err
	}
	return nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) *client {
	return &client{mongo: mongoClient, sessions: coll, timeout: timeout}
}

// collection is the subset of *mongodriver.Collection used by the client.
type collection interface {
	FindOne(ctx context.Context, filter any) singleResult
	// ReplaceOne replaces the document matching filter, inserting it when
	// nothing matches.
	ReplaceOne(ctx context.Context, filter any, doc any) error
	EnsureUniqueIndex(ctx context.Context, key string) error
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, doc any) error {
	_, err := c.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (c mongoCollection) EnsureUniqueIndex(ctx context.Context, key string) error {
	_, err := c.coll.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: key, Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}
