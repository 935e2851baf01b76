// Package topic implements the Topic Registry (C1): a read-only, in-process
// catalog of Topic Definitions. Topic identity and shape are code, not data
// (design rationale in spec.md 4.1): changing a topic's parameter contract
// or result schema has code-compatibility implications and should flow
// through code review and deployment, unlike Runtime Topic Configuration
// (agent/runtimeconfig), which is data.
//
// A Registry is a plain value built once at process start via NewRegistry
// and threaded explicitly into the orchestrator; there is no package-level
// singleton (spec.md 9, "Implicit singletons").
package topic

import (
	"errors"
	"fmt"
)

type (
	// Kind distinguishes single-shot operations from multi-turn conversations.
	Kind string

	// ValueKind is the declared type of a parameter value.
	ValueKind string

	// TemplateRole identifies one of the four independently stored prompt
	// pieces a topic may reference.
	TemplateRole string

	// ParameterDescriptor declares one parameter a topic's templates may
	// reference.
	ParameterDescriptor struct {
		// Name is the placeholder name as it appears in templates (bare,
		// double-braced: {{name}}).
		Name string

		// Kind is the declared value kind.
		Kind ValueKind

		// Required reports whether initiation must fail when the parameter is
		// unresolved after caller input, resolver hook, and default (section
		// 4.3 resolution order).
		Required bool

		// Description is an optional human-readable description for the
		// administrative surface.
		Description string

		// Default is the declared default value, used when the parameter is
		// unresolved after caller input and resolver hooks, whether or not it
		// is required.
		Default any

		// Resolver optionally names a resolver hook registered with the
		// Template Renderer (e.g. "business_context_lookup"). Empty means no
		// resolver hook is attached.
		Resolver string
	}

	// TemplateRef is an opaque reference the Template Renderer resolves to
	// raw template text (e.g. an object-store key).
	TemplateRef struct {
		// Ref is the opaque locator (object-store key/path).
		Ref string

		// Version is an optional cache-busting version tag; empty means
		// "latest".
		Version string
	}

	// ResultSchema is the declarative schema for a topic's extracted
	// structured result. See agent/extraction for the runtime representation
	// used to validate LLM output.
	ResultSchema struct {
		// ID identifies the schema (used in persisted session records as
		// extraction_schema_id).
		ID string

		// Fields describes the schema's top-level object fields.
		Fields []SchemaField
	}

	// SchemaField describes one field of a ResultSchema, recursively.
	SchemaField struct {
		Name     string
		Kind     ValueKind
		Required bool
		// Fields is set when Kind is Object, describing nested fields.
		Fields []SchemaField
		// Items describes the element type when Kind is Array.
		Items *SchemaField
	}

	// Definition is a static Topic Definition.
	Definition struct {
		// ID is the stable topic identifier (e.g. "COACHING:core_values").
		ID string

		// Kind distinguishes single-shot from conversation topics.
		Kind Kind

		// Parameters is the ordered list of declared parameters.
		Parameters []ParameterDescriptor

		// Templates maps template role to its reference. Conversation topics
		// must provide System and Initiation; Extraction is implied by the
		// presence of Schema.
		Templates map[TemplateRole]TemplateRef

		// Schema is the declarative result schema, if any.
		Schema *ResultSchema

		// Freeform, when true, explicitly marks a Conversation topic as
		// producing no structured result (spec.md 3: "Conversation topics must
		// have a result schema or be explicitly marked as freeform").
		Freeform bool

		// CompletionMarker is the conventional textual marker inspected
		// against the assistant's rendered response to detect the completion
		// signal (spec.md 4.5), checked after the provider's own finish
		// reason.
		CompletionMarker string

		// CompletionFinishReasons lists provider finish-reason values that
		// count as a completion signal on their own (e.g. a provider-side
		// stop sequence configured to match CompletionMarker). Checked
		// before CompletionMarker, per spec.md 4.5's stated order.
		CompletionFinishReasons []string

		// Version is a monotonic counter bumped when a topic is re-registered
		// with different content at process restart. No component reads it;
		// template cache keys use TemplateRef.Version.
		Version int
	}

	// Registry is the read-only Topic Registry.
	Registry struct {
		defs map[string]Definition
	}

	// placeholderExtractor extracts {{name}} placeholders from raw template
	// text. Registered definitions have their templates parsed eagerly at
	// registration time (spec.md 4.1: "performed eagerly on registration, not
	// lazily at render time").
	placeholderExtractor func(text string) []string
)

const (
	// KindSingleShot identifies a stateless, single-call topic.
	KindSingleShot Kind = "single_shot"

	// KindConversation identifies a multi-turn, stateful topic.
	KindConversation Kind = "conversation"

	// ValueKindString identifies a string-valued parameter.
	ValueKindString ValueKind = "string"
	// ValueKindNumber identifies a numeric parameter.
	ValueKindNumber ValueKind = "number"
	// ValueKindBoolean identifies a boolean parameter.
	ValueKindBoolean ValueKind = "boolean"
	// ValueKindArray identifies an opaque array parameter.
	ValueKindArray ValueKind = "array"
	// ValueKindObject identifies an opaque object parameter.
	ValueKindObject ValueKind = "object"

	// RoleSystem is the system prompt template role.
	RoleSystem TemplateRole = "system"
	// RoleInitiation is the conversation-opening template role.
	RoleInitiation TemplateRole = "initiation"
	// RoleResume is the resumption template role.
	RoleResume TemplateRole = "resume"
	// RoleExtraction is the structured-output extraction template role.
	RoleExtraction TemplateRole = "extraction"
)

var (
	// ErrDuplicateTopic indicates Register was called with an ID already
	// present in the registry.
	ErrDuplicateTopic = errors.New("topic: duplicate topic id")

	// ErrInvalidTemplateRefs indicates a template placeholder does not match
	// any declared parameter.
	ErrInvalidTemplateRefs = errors.New("topic: template references undeclared parameter")

	// ErrNotFound indicates no Topic Definition exists for the requested id.
	ErrNotFound = errors.New("topic: not found")

	// ErrMissingTemplates indicates a Conversation topic is missing a
	// required template role.
	ErrMissingTemplates = errors.New("topic: conversation topic missing required template role")

	// ErrMissingSchema indicates a Conversation topic declares neither a
	// result schema nor Freeform.
	ErrMissingSchema = errors.New("topic: conversation topic missing result schema or freeform marker")
)

// NewRegistry constructs an empty Registry. Definitions are added with
// Register; registration is append-only within a process lifetime (spec.md
// 4.1).
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register validates and adds def to the registry. extractPlaceholders
// extracts the set of {{name}} placeholders from template text; loadTemplate
// loads the raw text for a TemplateRef (typically backed by
// agent/template.Loader). Passing them in lets the eager placeholder check
// (spec.md 4.1) run without depending on the Template Renderer package
// directly, keeping this package free of the renderer's caching/Redis
// concerns. The check runs only when both are non-nil; if either is nil,
// templates are not loaded and placeholders are not checked.
func (r *Registry) Register(def Definition, loadTemplate func(TemplateRef) (string, error), extractPlaceholders placeholderExtractor) error {
	if def.ID == "" {
		return errors.New("topic: id is required")
	}
	if _, exists := r.defs[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTopic, def.ID)
	}
	if def.Kind == KindConversation {
		if _, ok := def.Templates[RoleSystem]; !ok {
			return fmt.Errorf("%w: %s missing system template", ErrMissingTemplates, def.ID)
		}
		if _, ok := def.Templates[RoleInitiation]; !ok {
			return fmt.Errorf("%w: %s missing initiation template", ErrMissingTemplates, def.ID)
		}
		if def.Schema == nil && !def.Freeform {
			return fmt.Errorf("%w: %s", ErrMissingSchema, def.ID)
		}
	}

	declared := make(map[string]struct{}, len(def.Parameters))
	for _, p := range def.Parameters {
		declared[p.Name] = struct{}{}
	}

	if loadTemplate != nil && extractPlaceholders != nil {
		for role, ref := range def.Templates {
			text, err := loadTemplate(ref)
			if err != nil {
				return fmt.Errorf("topic: loading template %s/%s: %w", def.ID, role, err)
			}
			for _, ph := range extractPlaceholders(text) {
				if _, ok := declared[ph]; !ok {
					return fmt.Errorf("%w: %s/%s references %q", ErrInvalidTemplateRefs, def.ID, role, ph)
				}
			}
		}
	}

	r.defs[def.ID] = def
	return nil
}

// Lookup resolves a topic id to its Definition.
func (r *Registry) Lookup(id string) (Definition, error) {
	def, ok := r.defs[id]
	if !ok {
		return Definition{}, ErrNotFound
	}
	return def, nil
}

// ListConversationTopics lists all registered Conversation topics. This is
// informational for the administrative surface; it does not affect runtime
// (spec.md 4.1).
func (r *Registry) ListConversationTopics() []Definition {
	return r.list(KindConversation)
}

// ListSingleShotTopics lists all registered single-shot topics.
func (r *Registry) ListSingleShotTopics() []Definition {
	return r.list(KindSingleShot)
}

func (r *Registry) list(kind Kind) []Definition {
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
