// Package inmem provides an in-memory implementation of session.Store.
//
// It is intended for tests and local development. Production deployments
// should use a durable implementation (see agent/session/mongo).
package inmem

import (
	"context"
	"sync"

	"github.com/mottych/purposepath-ai/agent/session"
)

// Store is an in-memory implementation of session.Store. It is safe for
// concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
	// resumable indexes (tenant, user, topic) -> session id for sessions in
	// a non-terminal state, mirroring the secondary index described for the
	// durable store.
	resumable map[resumableKey]string
}

type resumableKey struct {
	tenantID string
	userID   string
	topicID  string
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		sessions:  make(map[string]*session.Session),
		resumable: make(map[resumableKey]string),
	}
}

// Create implements session.Store.
func (s *Store) Create(_ context.Context, in *session.Session) error {
	if in.ID == "" {
		return session.ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[in.ID]; ok {
		return session.ErrAlreadyExists
	}

	stored := clone(in)
	stored.Version = 1
	s.sessions[in.ID] = stored
	if !session.IsTerminal(stored.Status) {
		s.resumable[resumableKey{stored.TenantID, stored.UserID, stored.TopicID}] = stored.ID
	}
	in.Version = stored.Version
	return nil
}

// Get implements session.Store.
func (s *Store) Get(_ context.Context, tenantID, sessionID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored, ok := s.sessions[sessionID]
	if !ok || stored.TenantID != tenantID {
		return nil, session.ErrSessionNotFound
	}
	return clone(stored), nil
}

// GetActiveForUserTopic implements session.Store.
func (s *Store) GetActiveForUserTopic(_ context.Context, tenantID, userID, topicID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.resumable[resumableKey{tenantID, userID, topicID}]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	stored, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return clone(stored), nil
}

// GetResumableForTopic implements session.Store.
func (s *Store) GetResumableForTopic(_ context.Context, tenantID, topicID string) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, id := range s.resumable {
		if key.tenantID != tenantID || key.topicID != topicID {
			continue
		}
		stored, ok := s.sessions[id]
		if !ok {
			continue
		}
		return clone(stored), nil
	}
	return nil, session.ErrSessionNotFound
}

// Update implements session.Store.
func (s *Store) Update(_ context.Context, in *session.Session, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[in.ID]
	if !ok || stored.TenantID != in.TenantID {
		return session.ErrSessionNotFound
	}
	if stored.Version != expectedVersion {
		return session.ErrConcurrentModification
	}

	next := clone(in)
	next.Version = expectedVersion + 1
	s.sessions[in.ID] = next

	key := resumableKey{next.TenantID, next.UserID, next.TopicID}
	if session.IsTerminal(next.Status) {
		if s.resumable[key] == next.ID {
			delete(s.resumable, key)
		}
	} else {
		s.resumable[key] = next.ID
	}

	in.Version = next.Version
	return nil
}

func clone(in *session.Session) *session.Session {
	out := *in
	out.Messages = append([]session.Message(nil), in.Messages...)
	if in.CompletedAt != nil {
		at := *in.CompletedAt
		out.CompletedAt = &at
	}
	if len(in.ExtractedResult) > 0 {
		out.ExtractedResult = make(map[string]any, len(in.ExtractedResult))
		for k, v := range in.ExtractedResult {
			out.ExtractedResult[k] = v
		}
	}
	return &out
}
