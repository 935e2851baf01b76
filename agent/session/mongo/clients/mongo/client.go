// Package mongo hosts the MongoDB client backing durable session storage.
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

	"github.com/mottych/purposepath-ai/agent/session"
)

const (
	defaultSessionsCollection = "coaching_sessions"
	defaultOpTimeout          = 5 * time.Second
	sessionClientName         = "session-mongo"
)

// Client exposes Mongo-backed operations for Coaching Session persistence.
type Client interface {
	health.Pinger

	Create(ctx context.Context, s *session.Session) error
	Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error)
	GetActiveForUserTopic(ctx context.Context, tenantID, userID, topicID string) (*session.Session, error)
	GetResumableForTopic(ctx context.Context, tenantID, topicID string) (*session.Session, error)
	Update(ctx context.Context, s *session.Session, expectedVersion int64) error
}

// Options configures the Mongo session client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo      *mongodriver.Client
	collection collection
	timeout    time.Duration
}

// New returns a Client backed by MongoDB, ensuring the indexes the session
// store's access patterns depend on: a unique index on session_id, and a
// unique partial index on (tenant_id, user_id, topic_id) restricted to
// non-terminal statuses implementing the resumable-session secondary index.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	coll := opts.Collection
	if coll == "" {
		coll = defaultSessionsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	wrapped := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(coll)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wrapped); err != nil {
		return nil, err
	}
	return &client{mongo: opts.Client, collection: wrapped, timeout: timeout}, nil
}

func (c *client) Name() string {
	return sessionClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

// Create inserts a brand-new session document. Uses a plain insert rather
// than an idempotent upsert, since unlike the teacher's CreateSession,
// resumption is resolved by the orchestrator via GetResumableForTopic
// before Create is ever called; a duplicate key here indicates a genuine
// caller error.
func (c *client) Create(ctx context.Context, s *session.Session) error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := fromSession(s, 1)
	if _, err := c.collection.InsertOne(ctx, doc); err != nil {
		if mongodriver.IsDuplicateKeyError(err) {
			return session.ErrAlreadyExists
		}
		return err
	}
	s.Version = 1
	return nil
}

func (c *client) Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc sessionDocument
	filter := bson.M{"session_id": sessionID, "tenant_id": tenantID}
	if err := c.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	return doc.toSession(), nil
}

func (c *client) GetActiveForUserTopic(ctx context.Context, tenantID, userID, topicID string) (*session.Session, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc sessionDocument
	filter := bson.M{
		"tenant_id": tenantID,
		"user_id":   userID,
		"topic_id":  topicID,
		"status":    session.StatusActive,
	}
	if err := c.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	return doc.toSession(), nil
}

func (c *client) GetResumableForTopic(ctx context.Context, tenantID, topicID string) (*session.Session, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	var doc sessionDocument
	filter := bson.M{
		"tenant_id": tenantID,
		"topic_id":  topicID,
		"status":    session.StatusActive,
	}
	if err := c.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, session.ErrSessionNotFound
		}
		return nil, err
	}
	return doc.toSession(), nil
}

// Update performs a conditional replace on (session_id, version), the
// optimistic-concurrency mechanism the orchestrator relies on to serialize
// mutations of a single session without an explicit lock.
func (c *client) Update(ctx context.Context, s *session.Session, expectedVersion int64) error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	doc := fromSession(s, expectedVersion+1)
	filter := bson.M{
		"session_id": s.ID,
		"tenant_id":  s.TenantID,
		"version":    expectedVersion,
	}
	res, err := c.collection.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		if _, err := c.Get(ctx, s.TenantID, s.ID); err != nil {
			return err
		}
		return session.ErrConcurrentModification
	}
	s.Version = expectedVersion + 1
	return nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type messageDocument struct {
	Role      session.Role `bson:"role"`
	Content   string       `bson:"content"`
	Timestamp time.Time    `bson:"ts"`
	Turn      int          `bson:"turn,omitempty"`
}

type sessionDocument struct {
	SessionID          string                 `bson:"session_id"`
	TenantID           string                 `bson:"tenant_id"`
	UserID             string                 `bson:"user_id"`
	TopicID            string                 `bson:"topic_id"`
	Status             session.Status         `bson:"status"`
	Turn               int                    `bson:"turn"`
	MaxTurns           int                    `bson:"max_turns"`
	CreatedAt          time.Time              `bson:"created_at"`
	LastActivityAt     time.Time              `bson:"last_activity_at"`
	ExpiresAt          time.Time              `bson:"expires_at"`
	CompletedAt        *time.Time             `bson:"completed_at,omitempty"`
	Messages           []messageDocument      `bson:"messages"`
	ExtractedResult    map[string]any         `bson:"extracted_result,omitempty"`
	ExtractionSchemaID string                 `bson:"extraction_schema_id,omitempty"`
	Version            int64                  `bson:"version"`
	CorrelationID      string                 `bson:"correlation_id,omitempty"`
}

func fromSession(s *session.Session, version int64) sessionDocument {
	msgs := make([]messageDocument, len(s.Messages))
	for i, m := range s.Messages {
		msgs[i] = messageDocument{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp.UTC(), Turn: m.Turn}
	}
	var completedAt *time.Time
	if s.CompletedAt != nil {
		at := s.CompletedAt.UTC()
		completedAt = &at
	}
	return sessionDocument{
		SessionID:          s.ID,
		TenantID:           s.TenantID,
		UserID:             s.UserID,
		TopicID:            s.TopicID,
		Status:             s.Status,
		Turn:               s.Turn,
		MaxTurns:           s.MaxTurns,
		CreatedAt:          s.CreatedAt.UTC(),
		LastActivityAt:     s.LastActivityAt.UTC(),
		ExpiresAt:          s.ExpiresAt.UTC(),
		CompletedAt:        completedAt,
		Messages:           msgs,
		ExtractedResult:    s.ExtractedResult,
		ExtractionSchemaID: s.ExtractionSchemaID,
		Version:            version,
		CorrelationID:      s.CorrelationID,
	}
}

func (doc sessionDocument) toSession() *session.Session {
	msgs := make([]session.Message, len(doc.Messages))
	for i, m := range doc.Messages {
		msgs[i] = session.Message{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp, Turn: m.Turn}
	}
	var completedAt *time.Time
	if doc.CompletedAt != nil {
		at := doc.CompletedAt.UTC()
		completedAt = &at
	}
	return &session.Session{
		ID:                 doc.SessionID,
		TenantID:           doc.TenantID,
		UserID:             doc.UserID,
		TopicID:            doc.TopicID,
		Status:             doc.Status,
		Turn:               doc.Turn,
		MaxTurns:           doc.MaxTurns,
		CreatedAt:          doc.CreatedAt,
		LastActivityAt:     doc.LastActivityAt,
		ExpiresAt:          doc.ExpiresAt,
		CompletedAt:        completedAt,
		Messages:           msgs,
		ExtractedResult:    doc.ExtractedResult,
		ExtractionSchemaID: doc.ExtractionSchemaID,
		Version:            doc.Version,
		CorrelationID:      doc.CorrelationID,
	}
}

func ensureIndexes(ctx context.Context, coll collection) error {
	sessionIndex := mongodriver.IndexModel{
		Keys:    bson.D{{Key: "session_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	if _, err := coll.Indexes().CreateOne(ctx, sessionIndex); err != nil {
		return err
	}
	// Partial unique index enforcing "at most one resumable session per
	// (tenant, user, topic)" directly at the storage layer, in addition to
	// the orchestrator's own SessionConflict check.
	resumableIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "user_id", Value: 1},
			{Key: "topic_id", Value: 1},
		},
		Options: options.Index().
			SetUnique(true).
			SetPartialFilterExpression(bson.M{"status": string(session.StatusActive)}),
	}
	if _, err := coll.Indexes().CreateOne(ctx, resumableIndex); err != nil {
		return err
	}
	tenantTopicIndex := mongodriver.IndexModel{
		Keys: bson.D{
			{Key: "tenant_id", Value: 1},
			{Key: "topic_id", Value: 1},
			{Key: "status", Value: 1},
		},
	}
	if _, err := coll.Indexes().CreateOne(ctx, tenantTopicIndex); err != nil {
		return err
	}
	return nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	InsertOne(ctx context.Context, doc any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc, opts...)
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
