package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/defensa-digital/contratos-rag/history"
)

// MongoStore keeps turns as documents keyed by thread id.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// MongoConfig holds the connection parameters.
type MongoConfig struct {
	URI        string
	Database   string
	Collection string
}

// DefaultMongoConfig returns the local development defaults.
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "contratos_rag",
		Collection: "conversaciones",
	}
}

type mongoTurn struct {
	ThreadID  string    `bson:"thread_id"`
	Question  string    `bson:"question"`
	Answer    string    `bson:"answer"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMongoStore connects and ensures the thread index exists.
func NewMongoStore(cfg *MongoConfig) (*MongoStore, error) {
	if cfg == nil {
		cfg = DefaultMongoConfig()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping MongoDB: %w", err)
	}

	s := &MongoStore{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
	}

	indexModel := mongo.IndexModel{
		Keys: bson.D{{Key: "thread_id", Value: 1}, {Key: "created_at", Value: -1}},
	}
	if _, err := s.collection.Indexes().CreateOne(ctx, indexModel); err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return s, nil
}

func (s *MongoStore) Append(ctx context.Context, threadID string, turn history.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	_, err := s.collection.InsertOne(ctx, mongoTurn{
		ThreadID:  threadID,
		Question:  turn.Question,
		Answer:    turn.Answer,
		CreatedAt: turn.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("insert turn: %w", err)
	}
	return nil
}

func (s *MongoStore) Recent(ctx context.Context, threadID string, n int) ([]history.Turn, error) {
	if n <= 0 {
		n = history.DefaultWindow
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(int64(n))
	cursor, err := s.collection.Find(ctx, bson.M{"thread_id": threadID}, opts)
	if err != nil {
		return nil, fmt.Errorf("find turns: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []mongoTurn
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}

	// newest-first from the query; callers expect oldest-first
	turns := make([]history.Turn, len(docs))
	for i, doc := range docs {
		turns[len(docs)-1-i] = history.Turn{
			Question:  doc.Question,
			Answer:    doc.Answer,
			CreatedAt: doc.CreatedAt,
		}
	}
	return turns, nil
}

func (s *MongoStore) Clear(ctx context.Context, threadID string) error {
	if _, err := s.collection.DeleteMany(ctx, bson.M{"thread_id": threadID}); err != nil {
		return fmt.Errorf("clear thread %s: %w", threadID, err)
	}
	return nil
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
