// Package mongo implements session.Store by delegating to the Mongo client.
package mongo

import (
	"context"
	"errors"

	"github.com/mottych/purposepath-ai/agent/session"
	"github.com/mottych/purposepath-ai/agent/session/mongo/clients/mongo"
)

// Store implements session.Store by delegating to the Mongo client.
type Store struct {
	client mongo.Client
}

// NewStore builds a Store using the provided client.
func NewStore(client mongo.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// Create implements session.Store.
func (s *Store) Create(ctx context.Context, sess *session.Session) error {
	return s.client.Create(ctx, sess)
}

// Get implements session.Store.
func (s *Store) Get(ctx context.Context, tenantID, sessionID string) (*session.Session, error) {
	return s.client.Get(ctx, tenantID, sessionID)
}

// GetActiveForUserTopic implements session.Store.
func (s *Store) GetActiveForUserTopic(ctx context.Context, tenantID, userID, topicID string) (*session.Session, error) {
	return s.client.GetActiveForUserTopic(ctx, tenantID, userID, topicID)
}

// GetResumableForTopic implements session.Store.
func (s *Store) GetResumableForTopic(ctx context.Context, tenantID, topicID string) (*session.Session, error) {
	return s.client.GetResumableForTopic(ctx, tenantID, topicID)
}

// Update implements session.Store.
func (s *Store) Update(ctx context.Context, sess *session.Session, expectedVersion int64) error {
	return s.client.Update(ctx, sess, expectedVersion)
}
