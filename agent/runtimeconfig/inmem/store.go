// Package inmem provides an in-memory implementation of runtimeconfig.Store.
package inmem

import (
	"context"
	"sync"
	"time"

	"github.com/mottych/purposepath-ai/agent/modelregistry"
	"github.com/mottych/purposepath-ai/agent/runtimeconfig"
)

type key struct {
	tenantID string
	topicID  string
}

// Store is an in-memory implementation of runtimeconfig.Store. It is safe
// for concurrent use.
type Store struct {
	mu       sync.RWMutex
	registry *modelregistry.Registry
	records  map[key]*runtimeconfig.Record
}

// New returns an empty Store. registry, when non-nil, is consulted by Put to
// validate model code references.
func New(registry *modelregistry.Registry) *Store {
	return &Store{registry: registry, records: make(map[key]*runtimeconfig.Record)}
}

// Get implements runtimeconfig.Store.
func (s *Store) Get(_ context.Context, tenantID, topicID string) (*runtimeconfig.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key{tenantID, topicID}]
	if !ok {
		return nil, runtimeconfig.ErrNotConfigured
	}
	clone := *rec
	return &clone, nil
}

// Put implements runtimeconfig.Store.
func (s *Store) Put(_ context.Context, rec *runtimeconfig.Record) error {
	if err := runtimeconfig.Validate(rec, s.registry); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	k := key{rec.TenantID, rec.TopicID}
	if existing, ok := s.records[k]; ok {
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	clone := *rec
	s.records[k] = &clone
	return nil
}

// List implements runtimeconfig.Store.
func (s *Store) List(_ context.Context, tenantID string, filters runtimeconfig.Filters) ([]*runtimeconfig.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*runtimeconfig.Record
	for k, rec := range s.records {
		if k.tenantID != tenantID {
			continue
		}
		if filters.ActiveOnly && !rec.Active {
			continue
		}
		clone := *rec
		out = append(out, &clone)
	}
	return out, nil
}
