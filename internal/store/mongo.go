package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/parlakisik/aex-negotiation/internal/model"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoTimeout = 5 * time.Second

type MongoStore struct {
	strategies   *mongo.Collection
	negotiations *mongo.Collection
	rounds       *mongo.Collection
}

func NewMongoStore(client *mongo.Client, dbName string) *MongoStore {
	db := client.Database(dbName)
	return &MongoStore{
		strategies:   db.Collection("negotiation_strategies"),
		negotiations: db.Collection("negotiations"),
		rounds:       db.Collection("negotiation_rounds"),
	}
}

func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	if _, err := s.strategies.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "publisher_id", Value: 1}, {Key: "partner_type", Value: 1}, {Key: "active", Value: 1}},
	}); err != nil {
		return err
	}
	if _, err := s.negotiations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "publisher_id", Value: 1}, {Key: "last_activity_at", Value: -1}},
	}); err != nil {
		return err
	}
	_, err := s.rounds.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "negotiation_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	return err
}

func (s *MongoStore) GetStrategy(ctx context.Context, id string) (*model.Strategy, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	res := s.strategies.FindOne(ctx, bson.M{"_id": id})
	if errors.Is(res.Err(), mongo.ErrNoDocuments) {
		return nil, nil
	}
	if res.Err() != nil {
		return nil, res.Err()
	}
	var st model.Strategy
	if err := res.Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *MongoStore) FindStrategies(ctx context.Context, q StrategyQuery) ([]model.Strategy, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	filter := bson.M{
		"publisher_id":  q.PublisherID,
		"partner_type":  q.PartnerType,
		"active":        true,
		"license_types": q.LicenseType,
	}
	if q.PartnerName == nil {
		filter["partner_name"] = nil
	} else {
		filter["partner_name"] = *q.PartnerName
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return findStrategies(ctx, s.strategies, filter, opts)
}

func (s *MongoStore) ListStrategies(ctx context.Context, publisherID string) ([]model.Strategy, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return findStrategies(ctx, s.strategies, bson.M{"publisher_id": publisherID}, opts)
}

func findStrategies(ctx context.Context, coll *mongo.Collection, filter bson.M, opts *options.FindOptions) ([]model.Strategy, error) {
	cur, err := coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []model.Strategy
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) SaveStrategy(ctx context.Context, st model.Strategy) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	_, err := s.strategies.ReplaceOne(ctx, bson.M{"_id": st.ID}, st, options.Replace().SetUpsert(true))
	return err
}

func (s *MongoStore) DeleteStrategy(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	res, err := s.strategies.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("strategy %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *MongoStore) GetNegotiation(ctx context.Context, id string) (*model.Negotiation, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	res := s.negotiations.FindOne(ctx, bson.M{"_id": id})
	if errors.Is(res.Err(), mongo.ErrNoDocuments) {
		return nil, nil
	}
	if res.Err() != nil {
		return nil, res.Err()
	}
	var n model.Negotiation
	if err := res.Decode(&n); err != nil {
		return nil, err
	}
	return &n, nil
}

func (s *MongoStore) CreateNegotiation(ctx context.Context, n *model.Negotiation) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	n.Version = 1
	_, err := s.negotiations.InsertOne(ctx, n)
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("negotiation %s: %w", n.ID, ErrAlreadyExists)
	}
	return err
}

func (s *MongoStore) UpdateNegotiation(ctx context.Context, n *model.Negotiation) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	next := *n
	next.Version = n.Version + 1
	res, err := s.negotiations.ReplaceOne(ctx, bson.M{"_id": n.ID, "version": n.Version}, next, options.Replace().SetUpsert(false))
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		count, err := s.negotiations.CountDocuments(ctx, bson.M{"_id": n.ID})
		if err != nil {
			return err
		}
		if count == 0 {
			return fmt.Errorf("negotiation %s: %w", n.ID, ErrNotFound)
		}
		return fmt.Errorf("negotiation %s at version %d: %w", n.ID, n.Version, ErrVersionConflict)
	}
	n.Version = next.Version
	return nil
}

func (s *MongoStore) ListNegotiations(ctx context.Context, f NegotiationFilter) ([]model.Negotiation, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	filter := bson.M{}
	if f.PublisherID != "" {
		filter["publisher_id"] = f.PublisherID
	}
	if f.Status != "" {
		filter["status"] = f.Status
	}
	opts := options.Find().SetSort(bson.D{{Key: "last_activity_at", Value: -1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cur, err := s.negotiations.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []model.Negotiation
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *MongoStore) AppendRound(ctx context.Context, r model.Round) error {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	_, err := s.rounds.InsertOne(ctx, r)
	return err
}

func (s *MongoStore) ListRounds(ctx context.Context, negotiationID string) ([]model.Round, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoTimeout)
	defer cancel()
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.rounds.Find(ctx, bson.M{"negotiation_id": negotiationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []model.Round{}
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
