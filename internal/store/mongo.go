package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const mongoCollection = "verification_records"

type mongoRecord struct {
	Key       string            `bson:"_id"`
	Fields    map[string]string `bson:"fields"`
	ExpiresAt *time.Time        `bson:"expires_at,omitempty"`
	UpdatedAt time.Time         `bson:"updated_at"`
}

type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*Mongo)(nil)

func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	return client, nil
}

func NewMongo(client *mongo.Client, database string, ttl time.Duration) (*Mongo, error) {
	if client == nil {
		return nil, errors.New("mongo store requires a client")
	}
	if database == "" {
		return nil, errors.New("mongo store requires a database name")
	}
	return &Mongo{
		client: client,
		coll:   client.Database(database).Collection(mongoCollection),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// newMongoOwned takes ownership of client and disconnects it when the store
// cannot be built.
func newMongoOwned(ctx context.Context, client *mongo.Client, database string, ttl time.Duration) (*Mongo, error) {
	s, err := NewMongo(client, database, ttl)
	if err != nil {
		if client != nil {
			_ = client.Disconnect(ctx)
		}
		return nil, err
	}
	return s, nil
}

// EnsureIndexes lets the server reap expired records. Get also filters them,
// since the TTL monitor only runs once a minute.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("create ttl index: %w", err)
	}
	return nil
}

func (m *Mongo) Put(ctx context.Context, key string, rec Record) error {
	now := m.now().UTC()
	doc := mongoRecord{Key: key, Fields: rec, UpdatedAt: now}
	if m.ttl > 0 {
		t := now.Add(m.ttl)
		doc.ExpiresAt = &t
	}

	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": key}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("replace record: %w", err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, key string) (Record, error) {
	var doc mongoRecord
	if err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find record: %w", err)
	}
	if doc.ExpiresAt != nil && !m.now().Before(*doc.ExpiresAt) {
		return nil, ErrNotFound
	}
	return Record(doc.Fields), nil
}

func (m *Mongo) Ping(ctx context.Context) error { return m.client.Ping(ctx, readpref.Primary()) }

func (m *Mongo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
