// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/pdiddy/recall-engine/internal/logger"
	"github.com/pdiddy/recall-engine/internal/vecmath"
	"github.com/pdiddy/recall-engine/pkg/types"
)

const mongoBackend = "mongo"

// MongoConfig holds connection settings for MongoStore.
type MongoConfig struct {
	URI         string
	Database    string
	Collection  string
	VectorIndex string
	Dimension   int
}

// MongoStore keeps one document per message in a MongoDB Atlas
// collection and queries it with $vectorSearch.
//
// Expected Atlas Vector Search index (see IndexDefinition):
//
//	{ fields: [
//	    { type: "vector", path: "embedding", numDimensions: <dim>, similarity: "cosine" },
//	    { type: "filter", path: "room" },
//	    { type: "filter", path: "message_type" } ] }
type MongoStore struct {
	client *mongo.Client
	col    *mongo.Collection
	cfg    MongoConfig
	log    *logger.Logger
}

type mongoDoc struct {
	ID           string    `bson:"_id"`
	Text         string    `bson:"text"`
	Author       string    `bson:"author"`
	Room         string    `bson:"room"`
	Timestamp    time.Time `bson:"timestamp"`
	MessageType  string    `bson:"message_type"`
	Confidence   float64   `bson:"classification_confidence"`
	ContainsCode bool      `bson:"contains_code"`
	CodeLanguage string    `bson:"code_language,omitempty"`
	TopicTags    []string  `bson:"topic_tags"`
	TechKeywords []string  `bson:"tech_keywords"`
	Embedding    []float32 `bson:"embedding,omitempty"`
	Score        float64   `bson:"score,omitempty"`
}

// NewMongoStore connects with a 10 second timeout and pings the server.
func NewMongoStore(ctx context.Context, cfg MongoConfig, log *logger.Logger) (*MongoStore, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, opErr(mongoBackend, "init", CodeValidation, "uri is required", nil)
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, opErr(mongoBackend, "init", CodeTransport, "connect failed", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, opErr(mongoBackend, "init", CodeTransport, "ping failed", err)
	}

	s := &MongoStore{
		client: client,
		col:    client.Database(cfg.Database).Collection(cfg.Collection),
		cfg:    cfg,
		log:    logger.OrNop(log).With("service", "MongoStore"),
	}
	s.log.Info("mongo vector store ready", "database", cfg.Database, "collection", cfg.Collection, "index", cfg.VectorIndex)
	return s, nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// IndexDefinition is the Atlas Vector Search index the store expects.
func IndexDefinition(dim int) bson.D {
	return bson.D{{Key: "fields", Value: bson.A{
		bson.D{{Key: "type", Value: "vector"}, {Key: "path", Value: "embedding"}, {Key: "numDimensions", Value: dim}, {Key: "similarity", Value: "cosine"}},
		bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "room"}},
		bson.D{{Key: "type", Value: "filter"}, {Key: "path", Value: "message_type"}},
	}}}
}

// EnsureIndex creates the vector search index when it is missing.
func (s *MongoStore) EnsureIndex(ctx context.Context) error {
	cur, err := s.col.SearchIndexes().List(ctx, options.SearchIndexes().SetName(s.cfg.VectorIndex))
	if err != nil {
		return opErr(mongoBackend, "ensure_index", CodeQuery, "listing search indexes", err)
	}
	defer cur.Close(ctx)
	if cur.Next(ctx) {
		return nil
	}
	_, err = s.col.SearchIndexes().CreateOne(ctx, mongo.SearchIndexModel{
		Definition: IndexDefinition(s.cfg.Dimension),
		Options:    options.SearchIndexes().SetName(s.cfg.VectorIndex).SetType("vectorSearch"),
	})
	if err != nil {
		return opErr(mongoBackend, "ensure_index", CodeWrite, "creating search index", err)
	}
	s.log.Info("created vector search index", "index", s.cfg.VectorIndex)
	return nil
}

// Store replaces the message document, inserting it when absent.
func (s *MongoStore) Store(ctx context.Context, msg types.StoredMessage) error {
	if err := validate(mongoBackend, msg, s.cfg.Dimension); err != nil {
		return err
	}
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": msg.ID}, toDoc(msg), options.Replace().SetUpsert(true))
	if err != nil {
		return classifyMongoError("store", err)
	}
	return nil
}

// Query runs $vectorSearch. Atlas already reports cosine scores on the
// [0,1] scale.
func (s *MongoStore) Query(ctx context.Context, vec []float32, f Filter, limit int) ([]types.SearchResult, error) {
	if err := checkDim(mongoBackend, "query", vec, s.cfg.Dimension, false); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	cur, err := s.col.Aggregate(ctx, searchPipeline(s.cfg.VectorIndex, vec, f, limit))
	if err != nil {
		return nil, classifyMongoError("query", err)
	}
	defer cur.Close(ctx)

	var docs []mongoDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, opErr(mongoBackend, "query", CodeDecode, "decoding results", err)
	}
	out := make([]types.SearchResult, 0, len(docs))
	for _, d := range docs {
		out = append(out, types.SearchResult{StoredMessage: fromDoc(d), SimilarityScore: vecmath.Clamp01(d.Score)})
	}
	return rank(out, limit), nil
}

func (s *MongoStore) GetByID(ctx context.Context, id string) (types.StoredMessage, error) {
	var d mongoDoc
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return types.StoredMessage{}, notFound(mongoBackend, id)
	}
	if err != nil {
		return types.StoredMessage{}, classifyMongoError("get", err)
	}
	return fromDoc(d), nil
}

// searchPipeline builds the aggregation for one similarity query.
func searchPipeline(index string, vec []float32, f Filter, limit int) mongo.Pipeline {
	filter := bson.D{{Key: "room", Value: bson.D{{Key: "$eq", Value: f.Room}}}}
	if f.Type != "" {
		filter = append(filter, bson.E{Key: "message_type", Value: bson.D{{Key: "$eq", Value: string(f.Type)}}})
	}
	p := mongo.Pipeline{
		{{Key: "$vectorSearch", Value: bson.D{
			{Key: "index", Value: index},
			{Key: "path", Value: "embedding"},
			{Key: "queryVector", Value: vec},
			{Key: "numCandidates", Value: limit * 10},
			{Key: "limit", Value: limit + len(f.ExcludeIDs)},
			{Key: "filter", Value: filter},
		}}},
	}
	if len(f.ExcludeIDs) > 0 {
		p = append(p, bson.D{{Key: "$match", Value: bson.D{{Key: "_id", Value: bson.D{{Key: "$nin", Value: f.ExcludeIDs}}}}}})
	}
	p = append(p,
		bson.D{{Key: "$set", Value: bson.D{{Key: "score", Value: bson.D{{Key: "$meta", Value: "vectorSearchScore"}}}}}},
		bson.D{{Key: "$project", Value: bson.D{{Key: "embedding", Value: 0}}}},
	)
	return p
}

func toDoc(m types.StoredMessage) mongoDoc {
	return mongoDoc{
		ID:           m.ID,
		Text:         m.Text,
		Author:       m.Author,
		Room:         m.Room,
		Timestamp:    m.Timestamp.UTC(),
		MessageType:  string(m.Type),
		Confidence:   m.ClassificationConfidence,
		ContainsCode: m.ContainsCode,
		CodeLanguage: m.CodeLanguage,
		TopicTags:    m.TopicTags,
		TechKeywords: m.TechKeywords,
		Embedding:    m.Embedding,
	}
}

func fromDoc(d mongoDoc) types.StoredMessage {
	return types.StoredMessage{
		ID:                       d.ID,
		Text:                     d.Text,
		Author:                   d.Author,
		Room:                     d.Room,
		Timestamp:                d.Timestamp.UTC(),
		Type:                     types.MessageType(d.MessageType),
		ClassificationConfidence: d.Confidence,
		Tags: types.Tags{
			TopicTags:    d.TopicTags,
			TechKeywords: d.TechKeywords,
			ContainsCode: d.ContainsCode,
			CodeLanguage: d.CodeLanguage,
		},
		Embedding: d.Embedding,
	}
}

func classifyMongoError(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || mongo.IsTimeout(err):
		return opErr(mongoBackend, op, CodeTimeout, "operation timed out", err)
	case mongo.IsNetworkError(err):
		return opErr(mongoBackend, op, CodeTransport, "network error", err)
	}
	return opErr(mongoBackend, op, CodeQuery, fmt.Sprintf("%s failed", op), err)
}
