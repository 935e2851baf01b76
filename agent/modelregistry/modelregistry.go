// Package modelregistry tracks the static (or admin-managed) catalog of
// Model Entries: the mapping from a model code used throughout the engine to
// a concrete provider tag and provider-specific model identifier.
//
// The registry is read-mostly (section 5): it is loaded at startup and
// refreshed only through explicit administrative operations. Readers never
// take locks on the hot path beyond a cheap RWMutex, matching the teacher's
// treatment of its Topic/Model registries as read-mostly, lock-free-for-readers
// catalogs.
package modelregistry

import (
	"errors"
	"sync"
)

type (
	// Capability identifies an optional feature a model supports.
	Capability string

	// Entry describes a single Model Entry.
	Entry struct {
		// Code is the stable model code referenced by runtime configuration
		// (e.g. "claude-sonnet-4.5").
		Code string

		// Provider is the provider tag, resolvable to a wired-in provider
		// adapter (e.g. "anthropic", "openai", "bedrock").
		Provider string

		// ProviderModelID is the concrete provider model identifier (e.g.
		// "claude-sonnet-4-5-20250929").
		ProviderModelID string

		// Capabilities lists the features this model supports.
		Capabilities []Capability

		// Active reports whether the model may currently be used. Inactive
		// models are resolvable for audit purposes but reject dispatch.
		Active bool

		// MinTemperature and MaxTemperature bound the sampling temperature the
		// provider accepts for this model.
		MinTemperature float64
		MaxTemperature float64

		// CostPerInputToken and CostPerOutputToken are optional cost metadata,
		// in micro-dollars per token, for observability/billing collaborators.
		CostPerInputToken  float64
		CostPerOutputToken float64
	}

	// Registry is a thread-safe catalog of Model Entries keyed by code.
	Registry struct {
		mu      sync.RWMutex
		entries map[string]Entry
	}
)

const (
	// CapabilityChat marks a model usable for chat/completion requests.
	CapabilityChat Capability = "chat"

	// CapabilityFunctionCalling marks a model usable with tool/function
	// definitions. Unused by this engine (no tool use) but retained so the
	// Model Entry shape matches what the admin surface manages.
	CapabilityFunctionCalling Capability = "function_calling"

	// CapabilityStreaming marks a model usable for streaming completions.
	// Unused by this engine (streaming is out of scope) but retained for the
	// same reason as CapabilityFunctionCalling.
	CapabilityStreaming Capability = "streaming"
)

// ErrModelNotFound indicates no Model Entry exists for the given code.
var ErrModelNotFound = errors.New("modelregistry: model not found")

// ErrModelInactive indicates a Model Entry exists but is not active.
var ErrModelInactive = errors.New("modelregistry: model inactive")

// New returns a Registry seeded with the given entries. Duplicate codes in
// entries overwrite earlier ones, matching Put's upsert semantics.
func New(entries ...Entry) *Registry {
	r := &Registry{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		r.entries[e.Code] = e
	}
	return r
}

// Put inserts or replaces a Model Entry. Code must be non-empty.
func (r *Registry) Put(e Entry) error {
	if e.Code == "" {
		return errors.New("modelregistry: code is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Code] = e
	return nil
}

// Lookup returns the Model Entry for code, regardless of its Active flag.
// Callers that require an active model should use Resolve instead.
func (r *Registry) Lookup(code string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[code]
	if !ok {
		return Entry{}, ErrModelNotFound
	}
	return e, nil
}

// Resolve returns the Model Entry for code, failing fast with
// ErrModelInactive when the model exists but is disabled. This is the entry
// point used by the provider gateway and by runtime configuration
// validation (section 3, Runtime Topic Configuration invariants).
func (r *Registry) Resolve(code string) (Entry, error) {
	e, err := r.Lookup(code)
	if err != nil {
		return Entry{}, err
	}
	if !e.Active {
		return Entry{}, ErrModelInactive
	}
	return e, nil
}

// List returns a snapshot of all registered entries.
func (r *Registry) List() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
