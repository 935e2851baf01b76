// Package runtimeconfig defines the Runtime Topic Configuration record and
// the persistence layer that admin surfaces use to manage it per tenant.
//
// Available implementations:
//
//   - inmem: in-memory store for development and testing
//   - mongo: MongoDB store for production persistence
//
// To add a new implementation, create a subpackage that implements the Store
// interface and returns runtimeconfig.ErrNotConfigured for missing records.
package runtimeconfig

import (
	"context"
	"errors"
	"time"

	"github.com/mottych/purposepath-ai/agent/modelregistry"
)

type (
	// Record is the effective runtime configuration for a (tenant, topic)
	// pair: the data, as opposed to the code, half of how a topic executes.
	Record struct {
		TenantID string
		TopicID  string

		// ModelCode must resolve to an active Model Entry.
		ModelCode string

		Temperature float64
		MaxTokens   int

		// MaxTurns bounds the number of assistant turns before the
		// orchestrator forces completion.
		MaxTurns int

		// SessionTTLHours bounds how long a resumable session remains
		// resumable after its last activity.
		SessionTTLHours int

		// IdleTimeoutMinutes is informational: idle sessions remain
		// resumable until SessionTTLHours elapses; this value is exposed
		// for admin/observability surfaces only.
		IdleTimeoutMinutes int

		// ExtractionModelCode, when set, overrides ModelCode for the
		// Complete operation's extraction call (e.g. a cheaper model).
		ExtractionModelCode string

		// FallbackModelCode, when set, is the model the Gateway dispatches
		// to after primary-with-backoff is exhausted on a transient error.
		// Must resolve to a distinct active Model Entry.
		FallbackModelCode string

		Active bool

		CreatedAt time.Time
		UpdatedAt time.Time

		// UpdatedBy identifies the administrative principal that last wrote
		// this record, for audit purposes only; Put never interprets it.
		UpdatedBy string
	}

	// Filters narrows List results for administrative listing.
	Filters struct {
		ActiveOnly bool
		Kind       string
	}

	// Store is the persistence port for Runtime Topic Configuration.
	// Implementations must be safe for concurrent use.
	Store interface {
		// Get returns the record for (tenantID, topicID). Returns
		// ErrNotConfigured if none exists.
		Get(ctx context.Context, tenantID, topicID string) (*Record, error)

		// Put validates rec against the Model Registry and the record's own
		// invariants (max turns >= 1, TTL > 0, idle timeout > 0, temperature
		// within provider-declared bounds, referenced model code exists and
		// is active) before storing it.
		Put(ctx context.Context, rec *Record) error

		// List supports administrative listing. Filters.ActiveOnly is
		// applied; Filters.Kind is not consulted by the inmem or mongo
		// implementations, so results are not narrowed by topic kind.
		List(ctx context.Context, tenantID string, filters Filters) ([]*Record, error)
	}
)

// ErrNotConfigured indicates no runtime configuration exists for the
// requested (tenant, topic) pair. Initiate maps this to TopicNotAvailable.
var ErrNotConfigured = errors.New("runtimeconfig: not configured")

// ErrInvalidRecord indicates Put was called with a record that violates one
// of the Runtime Topic Configuration invariants.
var ErrInvalidRecord = errors.New("runtimeconfig: invalid record")

// Validate checks rec's own invariants and, when registry is non-nil, that
// its model codes resolve to active Model Entries within the declared
// temperature bounds. Store implementations call this from Put.
func Validate(rec *Record, registry *modelregistry.Registry) error {
	if rec.TenantID == "" || rec.TopicID == "" {
		return wrap("tenant id and topic id are required")
	}
	if rec.MaxTurns < 1 {
		return wrap("max_turns must be >= 1")
	}
	if rec.SessionTTLHours <= 0 {
		return wrap("session_ttl_hours must be > 0")
	}
	if rec.IdleTimeoutMinutes <= 0 {
		return wrap("idle_timeout_minutes must be > 0")
	}
	if rec.ModelCode == "" {
		return wrap("model_code is required")
	}
	if registry == nil {
		return nil
	}
	if err := validateModelCode(registry, rec.ModelCode, rec.Temperature); err != nil {
		return err
	}
	if rec.ExtractionModelCode != "" {
		if err := validateModelCode(registry, rec.ExtractionModelCode, 0); err != nil {
			return err
		}
	}
	if rec.FallbackModelCode != "" {
		if rec.FallbackModelCode == rec.ModelCode {
			return wrap("fallback_model_code must differ from model_code")
		}
		if err := validateModelCode(registry, rec.FallbackModelCode, 0); err != nil {
			return err
		}
	}
	return nil
}

func validateModelCode(registry *modelregistry.Registry, code string, temperature float64) error {
	entry, err := registry.Resolve(code)
	if err != nil {
		return wrap("model_code " + code + " is not an active model: " + err.Error())
	}
	if temperature != 0 && (temperature < entry.MinTemperature || temperature > entry.MaxTemperature) {
		return wrap("temperature out of bounds for model " + code)
	}
	return nil
}

func wrap(msg string) error {
	return errors.Join(ErrInvalidRecord, errors.New(msg))
}
