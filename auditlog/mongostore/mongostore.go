// Package mongostore provides a MongoDB-backed auditlog.Sink, grounded on
// the same options-struct-over-a-driver-client pattern the teacher uses for
// its session store (features/run/mongo): a thin Store wrapping a narrow
// collection interface so the collection/index wiring stays testable without a
// live server.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/durableflow/kernel/contracts"
)

const (
	defaultCollection = "durableflow_audit_log"
	defaultOpTimeout  = 5 * time.Second
)

// Options configures the Mongo-backed audit log store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Store implements auditlog.Sink by inserting one document per log entry
// into a Mongo collection indexed on goal id and sequence.
type Store struct {
	coll    collection
	timeout time.Duration
}

// New builds a Store from Options, ensuring the goalId+seq index exists.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongostore: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongostore: database name is required")
	}
	collName := opts.Collection
	if collName == "" {
		collName = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	mcoll := opts.Client.Database(opts.Database).Collection(collName)
	wrapper := mongoCollection{coll: mcoll}
	return newStoreWithCollection(wrapper, timeout)
}

func newStoreWithCollection(coll collection, timeout time.Duration) (*Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, fmt.Errorf("mongostore: ensure indexes: %w", err)
	}
	return &Store{coll: coll, timeout: timeout}, nil
}

// Append inserts one document per entry, stamping each with goalID and a
// monotonically increasing sequence number scoped to the goal so readers can
// reconstruct log order even though entries arrive in batches.
func (s *Store) Append(ctx context.Context, goalID string, entries []contracts.LogEvent) error {
	if goalID == "" {
		return errors.New("mongostore: goal id is required")
	}
	if len(entries) == 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	seq, err := s.nextSeq(ctx, goalID)
	if err != nil {
		return err
	}

	docs := make([]any, len(entries))
	for i, e := range entries {
		docs[i] = entryDocument{
			GoalID: goalID,
			Seq:    seq + i,
			At:     e.At,
			Event:  e.Event,
			Data:   e.Data,
		}
	}
	_, err = s.coll.InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("mongostore: insert entries for goal %q: %w", goalID, err)
	}
	return nil
}

// nextSeq counts existing documents for goalID to derive the next sequence
// number. This is best-effort ordering metadata for readers, not a
// correctness-critical counter: a race between concurrent archivers for the
// same goal (which should not happen — Archiver is meant to be driven by a
// single poller per goal) could produce duplicate sequence numbers without
// corrupting the underlying entries.
func (s *Store) nextSeq(ctx context.Context, goalID string) (int, error) {
	n, err := s.coll.CountDocuments(ctx, bson.M{"goal_id": goalID})
	if err != nil {
		return 0, fmt.Errorf("mongostore: count entries for goal %q: %w", goalID, err)
	}
	return int(n), nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type entryDocument struct {
	GoalID string    `bson:"goal_id"`
	Seq    int       `bson:"seq"`
	At     time.Time `bson:"at"`
	Event  string    `bson:"event"`
	Data   any       `bson:"data,omitempty"`
}

func ensureIndexes(ctx context.Context, coll collection) error {
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "goal_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	_, err := coll.Indexes().CreateOne(ctx, index)
	return err
}

// collection narrows *mongodriver.Collection to what Store needs, so tests
// can substitute a fake without a live server. Indexes returns an indexView
// interface rather than the driver's concrete IndexView, for the same reason:
// a fake collection's index view only needs to record that CreateOne ran.
type collection interface {
	InsertMany(ctx context.Context, documents []any, opts ...options.Lister[options.InsertManyOptions]) (*mongodriver.InsertManyResult, error)
	CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) InsertMany(ctx context.Context, documents []any, opts ...options.Lister[options.InsertManyOptions]) (*mongodriver.InsertManyResult, error) {
	return c.coll.InsertMany(ctx, documents, opts...)
}

func (c mongoCollection) CountDocuments(ctx context.Context, filter any, opts ...options.Lister[options.CountOptions]) (int64, error) {
	return c.coll.CountDocuments(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
