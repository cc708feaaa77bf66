package store

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dbsmedya/goadaptive/internal/logger"
	"github.com/dbsmedya/goadaptive/internal/record"
)

// MongoStore writes documents to one collection.
type MongoStore struct {
	coll   *mongo.Collection
	logger *logger.Logger
}

// NewMongoStore wraps coll.
func NewMongoStore(coll *mongo.Collection, log *logger.Logger) (*MongoStore, error) {
	if coll == nil {
		return nil, fmt.Errorf("document collection is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &MongoStore{coll: coll, logger: log}, nil
}

// InsertBatch inserts docs unordered, so one rejected document does not stop
// the rest. It returns how many were inserted.
func (s *MongoStore) InsertBatch(ctx context.Context, docs []record.Record) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	payload := toDocuments(docs)
	res, err := s.coll.InsertMany(ctx, payload, options.InsertMany().SetOrdered(false))
	if err != nil {
		inserted := insertedCount(res, err, len(payload))
		return inserted, fmt.Errorf("%d of %d documents failed: %w", len(payload)-inserted, len(payload), err)
	}
	return len(res.InsertedIDs), nil
}

// Upsert sets fields on the document matching filter, creating it if none
// matches.
func (s *MongoStore) Upsert(ctx context.Context, filter, set map[string]any) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M(filter),
		bson.M{"$set": bson.M(set)},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// Reset drops the collection.
func (s *MongoStore) Reset(ctx context.Context) error {
	if err := s.coll.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", s.coll.Name(), err)
	}
	return nil
}

// Name returns the collection name.
func (s *MongoStore) Name() string {
	return s.coll.Name()
}

func toDocuments(docs []record.Record) []interface{} {
	out := make([]interface{}, len(docs))
	for i, d := range docs {
		out[i] = bson.M(d)
	}
	return out
}

// insertedCount works out how many documents an unordered InsertMany
// stored when it also returned an error.
func insertedCount(res *mongo.InsertManyResult, err error, total int) int {
	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) {
		if bulkErr.WriteConcernError == nil && len(bulkErr.WriteErrors) <= total {
			return total - len(bulkErr.WriteErrors)
		}
		return 0
	}
	if res != nil {
		return len(res.InsertedIDs)
	}
	return 0
}
