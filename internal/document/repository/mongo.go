package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gogotex/revdoc/internal/document"
	"github.com/gogotex/revdoc/pkg/logger"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoRepo implements a MongoDB-backed repository. Documents live in one
// Mongo collection keyed by "<collectionID>/<key>"; the revision check is
// part of the filter of a single findAndModify command.
type MongoRepo struct {
	collections *mongo.Collection
	documents   *mongo.Collection
}

var _ Repository = (*MongoRepo)(nil)

type mongoDocument struct {
	ID         string    `bson:"_id"`
	Collection string    `bson:"collection"`
	Key        string    `bson:"key"`
	Rev        string    `bson:"rev"`
	Data       []byte    `bson:"data"`
	UpdatedAt  time.Time `bson:"updatedAt"`
}

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	m := &MongoRepo{
		collections: db.Collection("collections"),
		documents:   db.Collection("documents"),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// collection names are unique; documents are listed and counted per collection
	if _, err := m.collections.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "name", Value: 1}}, Options: options.Index().SetUnique(true)}); err != nil {
		logger.Warnf("mongo: cannot create collections.name index: %v", err)
	}
	if _, err := m.documents.Indexes().CreateOne(ctx, mongo.IndexModel{Keys: bson.D{{Key: "collection", Value: 1}, {Key: "key", Value: 1}}}); err != nil {
		logger.Warnf("mongo: cannot create documents.collection index: %v", err)
	}
	return m
}

func mongoID(collectionID, key string) string {
	return collectionID + "/" + key
}

func toMongo(d *document.Document) (*mongoDocument, error) {
	data, err := json.Marshal(d.Body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return &mongoDocument{
		ID:         mongoID(d.Collection, d.Key),
		Collection: d.Collection,
		Key:        d.Key,
		Rev:        d.Rev,
		Data:       data,
		UpdatedAt:  d.UpdatedAt,
	}, nil
}

func (md *mongoDocument) toDocument() (*document.Document, error) {
	d := &document.Document{Collection: md.Collection, Key: md.Key, Rev: md.Rev, UpdatedAt: md.UpdatedAt}
	if err := json.Unmarshal(md.Data, &d.Body); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	return d, nil
}

func (m *MongoRepo) CreateCollection(ctx context.Context, c *document.Collection) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if _, err := m.collections.InsertOne(ctx, c); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateName
		}
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

func (m *MongoRepo) FindCollection(ctx context.Context, ref string) (*document.Collection, error) {
	for _, filter := range []bson.M{{"_id": ref}, {"name": ref}} {
		var c document.Collection
		err := m.collections.FindOne(ctx, filter).Decode(&c)
		if err == nil {
			return &c, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("find collection: %w", err)
		}
	}
	return nil, ErrCollectionNotFound
}

func (m *MongoRepo) ListCollections(ctx context.Context) ([]*document.Collection, error) {
	cur, err := m.collections.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*document.Collection{}
	for cur.Next(ctx) {
		var c document.Collection
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (m *MongoRepo) DropCollection(ctx context.Context, id string) error {
	res, err := m.collections.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("drop collection: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrCollectionNotFound
	}
	if _, err := m.documents.DeleteMany(ctx, bson.M{"collection": id}); err != nil {
		return fmt.Errorf("drop documents: %w", err)
	}
	return nil
}

func (m *MongoRepo) requireCollection(ctx context.Context, id string) error {
	n, err := m.collections.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrCollectionNotFound
	}
	return nil
}

func (m *MongoRepo) Count(ctx context.Context, collectionID string) (int64, error) {
	if err := m.requireCollection(ctx, collectionID); err != nil {
		return 0, err
	}
	return m.documents.CountDocuments(ctx, bson.M{"collection": collectionID})
}

func (m *MongoRepo) Insert(ctx context.Context, doc *document.Document) error {
	if err := m.requireCollection(ctx, doc.Collection); err != nil {
		return err
	}
	doc.UpdatedAt = time.Now().UTC()
	md, err := toMongo(doc)
	if err != nil {
		return err
	}
	if _, err := m.documents.InsertOne(ctx, md); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrKeyExists
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (m *MongoRepo) Get(ctx context.Context, collectionID, key string) (*document.Document, error) {
	var md mongoDocument
	err := m.documents.FindOne(ctx, bson.M{"_id": mongoID(collectionID, key)}).Decode(&md)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			if cerr := m.requireCollection(ctx, collectionID); cerr != nil {
				return nil, cerr
			}
			return nil, ErrNotFound
		}
		return nil, err
	}
	return md.toDocument()
}

func (m *MongoRepo) List(ctx context.Context, collectionID string) ([]*document.Document, error) {
	if err := m.requireCollection(ctx, collectionID); err != nil {
		return nil, err
	}
	cur, err := m.documents.Find(ctx, bson.M{"collection": collectionID}, options.Find().SetSort(bson.D{{Key: "key", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*document.Document{}
	for cur.Next(ctx) {
		var md mongoDocument
		if err := cur.Decode(&md); err != nil {
			return nil, err
		}
		d, err := md.toDocument()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, cur.Err()
}

func casFilter(id, match string) bson.M {
	filter := bson.M{"_id": id}
	if match != "" {
		filter["rev"] = match
	}
	return filter
}

// miss tells a missing document apart from a revision mismatch after a
// filtered findAndModify matched nothing.
func (m *MongoRepo) miss(ctx context.Context, collectionID, key, match string) (*document.Document, error) {
	if match == "" {
		return nil, ErrNotFound
	}
	cur, err := m.Get(ctx, collectionID, key)
	if err != nil {
		return nil, err
	}
	return cur, ErrConflict
}

func (m *MongoRepo) Replace(ctx context.Context, doc *document.Document, match string) (*document.Document, error) {
	doc.UpdatedAt = time.Now().UTC()
	md, err := toMongo(doc)
	if err != nil {
		return nil, err
	}
	var prev mongoDocument
	opts := options.FindOneAndReplace().SetReturnDocument(options.Before)
	err = m.documents.FindOneAndReplace(ctx, casFilter(md.ID, match), md, opts).Decode(&prev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return m.miss(ctx, doc.Collection, doc.Key, match)
	}
	if err != nil {
		return nil, fmt.Errorf("replace document: %w", err)
	}
	return prev.toDocument()
}

func (m *MongoRepo) Remove(ctx context.Context, collectionID, key, match string) (*document.Document, error) {
	var prev mongoDocument
	err := m.documents.FindOneAndDelete(ctx, casFilter(mongoID(collectionID, key), match)).Decode(&prev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return m.miss(ctx, collectionID, key, match)
	}
	if err != nil {
		return nil, fmt.Errorf("remove document: %w", err)
	}
	return prev.toDocument()
}
