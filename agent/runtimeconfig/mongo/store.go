// Package mongo implements runtimeconfig.Store backed by MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/mottych/purposepath-ai/agent/modelregistry"
	"github.com/mottych/purposepath-ai/agent/runtimeconfig"
)

const (
	defaultCollection = "topic_runtime_configs"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "runtimeconfig-mongo"
)

// Store implements runtimeconfig.Store backed by MongoDB.
type Store struct {
	mongo      *mongodriver.Client
	collection *mongodriver.Collection
	registry   *modelregistry.Registry
	timeout    time.Duration
}

// Options configures the Mongo runtimeconfig store.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// New builds a Store, ensuring a unique index on (tenant_id, topic_id).
// registry, when non-nil, is consulted by Put to validate model code
// references.
func New(opts Options, registry *modelregistry.Registry) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	collection := opts.Client.Database(opts.Database).Collection(coll)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	index := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "topic_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := collection.Indexes().CreateOne(ctx, index); err != nil {
		return nil, err
	}
	return &Store{mongo: opts.Client, collection: collection, registry: registry, timeout: timeout}, nil
}

func (s *Store) Name() string {
	return clientName
}

func (s *Store) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.mongo.Ping(ctx, readpref.Primary())
}

var _ health.Pinger = (*Store)(nil)

// Get implements runtimeconfig.Store.
func (s *Store) Get(ctx context.Context, tenantID, topicID string) (*runtimeconfig.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	var doc recordDocument
	filter := bson.M{"tenant_id": tenantID, "topic_id": topicID}
	if err := s.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, runtimeconfig.ErrNotConfigured
		}
		return nil, err
	}
	return doc.toRecord(), nil
}

// Put implements runtimeconfig.Store.
func (s *Store) Put(ctx context.Context, rec *runtimeconfig.Record) error {
	if err := runtimeconfig.Validate(rec, s.registry); err != nil {
		return err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	filter := bson.M{"tenant_id": rec.TenantID, "topic_id": rec.TopicID}
	update := bson.M{
		"$set": bson.M{
			"model_code":            rec.ModelCode,
			"temperature":           rec.Temperature,
			"max_tokens":            rec.MaxTokens,
			"max_turns":             rec.MaxTurns,
			"session_ttl_hours":     rec.SessionTTLHours,
			"idle_timeout_minutes":  rec.IdleTimeoutMinutes,
			"extraction_model_code": rec.ExtractionModelCode,
			"fallback_model_code":   rec.FallbackModelCode,
			"active":                rec.Active,
			"updated_at":            now,
			"updated_by":            rec.UpdatedBy,
		},
		"$setOnInsert": bson.M{
			"tenant_id":  rec.TenantID,
			"topic_id":   rec.TopicID,
			"created_at": now,
		},
	}
	if _, err := s.collection.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return err
	}
	stored, err := s.Get(ctx, rec.TenantID, rec.TopicID)
	if err != nil {
		return err
	}
	*rec = *stored
	return nil
}

// List implements runtimeconfig.Store.
func (s *Store) List(ctx context.Context, tenantID string, filters runtimeconfig.Filters) ([]*runtimeconfig.Record, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	filter := bson.M{"tenant_id": tenantID}
	if filters.ActiveOnly {
		filter["active"] = true
	}
	cur, err := s.collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer func() { _ = cur.Close(ctx) }()

	var out []*runtimeconfig.Record
	for cur.Next(ctx) {
		var doc recordDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toRecord())
	}
	return out, cur.Err()
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

type recordDocument struct {
	TenantID            string    `bson:"tenant_id"`
	TopicID             string    `bson:"topic_id"`
	ModelCode           string    `bson:"model_code"`
	Temperature         float64   `bson:"temperature"`
	MaxTokens           int       `bson:"max_tokens"`
	MaxTurns            int       `bson:"max_turns"`
	SessionTTLHours     int       `bson:"session_ttl_hours"`
	IdleTimeoutMinutes  int       `bson:"idle_timeout_minutes"`
	ExtractionModelCode string    `bson:"extraction_model_code,omitempty"`
	FallbackModelCode   string    `bson:"fallback_model_code,omitempty"`
	Active              bool      `bson:"active"`
	CreatedAt           time.Time `bson:"created_at"`
	UpdatedAt           time.Time `bson:"updated_at"`
	UpdatedBy           string    `bson:"updated_by,omitempty"`
}

func (doc recordDocument) toRecord() *runtimeconfig.Record {
	return &runtimeconfig.Record{
		TenantID:            doc.TenantID,
		TopicID:             doc.TopicID,
		ModelCode:           doc.ModelCode,
		Temperature:         doc.Temperature,
		MaxTokens:           doc.MaxTokens,
		MaxTurns:            doc.MaxTurns,
		SessionTTLHours:     doc.SessionTTLHours,
		IdleTimeoutMinutes:  doc.IdleTimeoutMinutes,
		ExtractionModelCode: doc.ExtractionModelCode,
		FallbackModelCode:   doc.FallbackModelCode,
		Active:              doc.Active,
		CreatedAt:           doc.CreatedAt,
		UpdatedAt:           doc.UpdatedAt,
		UpdatedBy:           doc.UpdatedBy,
	}
}
