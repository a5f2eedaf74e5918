package sink

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/politicai/apportion/pkg/models"
)

// MongoSink upserts results as documents keyed by (constituency_name, year,
// category). Batches are ordered bulk writes, not transactions: a failed
// batch may leave earlier documents of the same batch written, which a re-run
// overwrites.
type MongoSink struct {
	client     *mongo.Client
	collection *mongo.Collection
}

// OpenMongo connects to uri and ensures the unique key index
func OpenMongo(ctx context.Context, uri, database, collection string) (*MongoSink, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "constituency_name", Value: 1}, {Key: "year", Value: 1}, {Key: "category", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("result_key"),
	})
	if err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create index: %w", err)
	}
	return &MongoSink{client: client, collection: coll}, nil
}

func resultFilter(r models.AggregateResult) bson.D {
	return bson.D{
		{Key: "constituency_name", Value: r.Constituency},
		{Key: "year", Value: r.Year},
		{Key: "category", Value: r.Category},
	}
}

func resultUpdate(r models.AggregateResult, now time.Time) bson.D {
	return bson.D{{Key: "$set", Value: bson.D{
		{Key: "source", Value: r.Source},
		{Key: "amount", Value: r.Amount},
		{Key: "percent", Value: r.Percent},
		{Key: "updated_at", Value: now},
	}}}
}

// upsertModels builds one upserting update per row
func upsertModels(rows []models.AggregateResult, now time.Time) []mongo.WriteModel {
	writes := make([]mongo.WriteModel, 0, len(rows))
	for _, r := range rows {
		writes = append(writes, mongo.NewUpdateOneModel().
			SetFilter(resultFilter(r)).
			SetUpdate(resultUpdate(r, now)).
			SetUpsert(true))
	}
	return writes
}

func (s *MongoSink) Name() string { return "mongo" }

func (s *MongoSink) Upsert(ctx context.Context, rows []models.AggregateResult) error {
	if len(rows) == 0 {
		return nil
	}
	_, err := s.collection.BulkWrite(ctx, upsertModels(rows, time.Now().UTC()), options.BulkWrite().SetOrdered(true))
	if err != nil {
		return fmt.Errorf("bulk write failed: %w", err)
	}
	return nil
}

func (s *MongoSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
