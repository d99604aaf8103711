package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoOpTimeout = 10 * time.Second

// MongoStore persists report records in a MongoDB collection. Like the
// other backends, records are insert-only.
type MongoStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	uri        string
}

type mongoRecord struct {
	ID     interface{} `bson:"_id,omitempty"`
	Record `bson:",inline"`
}

// NewMongoStore connects to MongoDB and pings it once to fail fast.
func NewMongoStore(uri, database string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("error connecting to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("error pinging MongoDB: %w", err)
	}

	return &MongoStore{
		client:     client,
		collection: client.Database(database).Collection("reports"),
		uri:        uri,
	}, nil
}

// Save inserts a new record and returns its object id.
func (s *MongoStore) Save(rec Record) (string, error) {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	result, err := s.collection.InsertOne(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("error inserting report: %w", err)
	}
	return fmt.Sprintf("reports/%v", result.InsertedID), nil
}

// Load returns the most recent record for the task id.
func (s *MongoStore) Load(taskID string) (Record, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "_id", Value: -1}})
	var found mongoRecord
	err := s.collection.FindOne(ctx, bson.M{"task_id": taskID}, opts).Decode(&found)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("error loading report: %w", err)
	}
	return found.Record, true, nil
}

// List returns summaries ordered by recency.
func (s *MongoStore) List(limit, offset int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))

	cursor, err := s.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("error querying reports: %w", err)
	}
	defer cursor.Close(ctx)

	var summaries []Summary
	for cursor.Next(ctx) {
		var found mongoRecord
		if err := cursor.Decode(&found); err != nil {
			continue
		}
		summaries = append(summaries, summarize(found.Record, fmt.Sprintf("reports/%v", found.ID)))
	}
	return summaries, cursor.Err()
}

// Delete removes all records for the task id.
func (s *MongoStore) Delete(taskID string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	result, err := s.collection.DeleteMany(ctx, bson.M{"task_id": taskID})
	if err != nil {
		return false, fmt.Errorf("error deleting reports: %w", err)
	}
	return result.DeletedCount > 0, nil
}

// Stats reports record count and an approximate stored size.
func (s *MongoStore) Stats() (Stats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "size", Value: bson.D{{Key: "$sum", Value: bson.D{{Key: "$bsonSize", Value: "$$ROOT"}}}}},
		}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return Stats{}, fmt.Errorf("error aggregating stats: %w", err)
	}
	defer cursor.Close(ctx)

	stats := Stats{Location: s.uri}
	if cursor.Next(ctx) {
		var row struct {
			Count int   `bson:"count"`
			Size  int64 `bson:"size"`
		}
		if err := cursor.Decode(&row); err == nil {
			stats.Count = row.Count
			stats.TotalSizeBytes = row.Size
		}
	}
	return stats, cursor.Err()
}

// Close disconnects the client.
func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}
