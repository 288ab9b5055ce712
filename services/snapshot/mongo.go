package snapshot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"market_feed_backend/logger"
	"market_feed_backend/models"
)

// MongoSnapshotCollection holds one document per stored quote
const MongoSnapshotCollection = "quote_snapshots"

type quoteDocument struct {
	Symbol        string    `bson:"symbol"`
	Price         float64   `bson:"price"`
	High          float64   `bson:"high"`
	Low           float64   `bson:"low"`
	Open          float64   `bson:"open"`
	PreviousClose float64   `bson:"previous_close"`
	ObservedAt    time.Time `bson:"observed_at"`
	CreatedAt     time.Time `bson:"created_at"`
}

// MongoStore keeps snapshots in a MongoDB collection
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// NewMongoStore connects, pings and prepares indexes
func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("MONGODB_URI environment variable not set")
	}

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(10).
		SetMinPoolSize(2).
		SetMaxConnIdleTime(30 * time.Second).
		SetConnectTimeout(30 * time.Second).
		SetRetryWrites(true).
		SetRetryReads(true)

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(connectCtx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := &MongoStore{
		client:     client,
		collection: client.Database(database).Collection(MongoSnapshotCollection),
	}
	store.createIndexes(connectCtx)

	logger.Log.Infof("MongoDB connected successfully (database=%s)", database)
	return store, nil
}

func (s *MongoStore) createIndexes(ctx context.Context) {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "observed_at", Value: -1}}},
		{Keys: bson.D{{Key: "symbol", Value: 1}, {Key: "observed_at", Value: -1}}},
	})
	if err != nil {
		logger.Log.Warnf("Failed to create snapshot indexes: %v", err)
	}
}

// SaveQuotes inserts one document per quote
func (s *MongoStore) SaveQuotes(ctx context.Context, quotes []models.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	now := time.Now().UTC()
	docs := make([]interface{}, 0, len(quotes))
	for _, q := range quotes {
		docs = append(docs, quoteDocument{
			Symbol:        q.Symbol,
			Price:         q.Price,
			High:          q.High,
			Low:           q.Low,
			Open:          q.Open,
			PreviousClose: q.PreviousClose,
			ObservedAt:    q.ObservedAt.UTC(),
			CreatedAt:     now,
		})
	}

	if _, err := s.collection.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to save snapshots: %w", err)
	}
	return nil
}

// LatestQuotes returns the newest snapshot documents
func (s *MongoStore) LatestQuotes(ctx context.Context, limit int) ([]models.Quote, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "observed_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []quoteDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode snapshots: %w", err)
	}

	quotes := make([]models.Quote, 0, len(docs))
	for _, doc := range docs {
		quotes = append(quotes, models.Quote{
			Symbol:        doc.Symbol,
			Price:         doc.Price,
			High:          doc.High,
			Low:           doc.Low,
			Open:          doc.Open,
			PreviousClose: doc.PreviousClose,
			ObservedAt:    doc.ObservedAt.UTC(),
		})
	}
	return quotes, nil
}

// Ping checks the server connection
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
