// Package template implements the Template Renderer (C3): minimal
// double-brace substitution over prompt markdown loaded from an external
// object store, with parameter resolution (caller bag -> resolver hook ->
// default -> error) and a bounded, invalidatable cache.
//
// The template language is intentionally minimal: placeholders are bare
// names in double braces ({{name}}); there are no conditionals, loops,
// nested paths, or filters (spec.md 4.3).
package template

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mottych/purposepath-ai/agent/topic"
)

type (
	// Loader loads raw template text for a reference from the backing object
	// store. Implementations (e.g. agent/template/s3store) do not assume
	// immutability of the store (spec.md 4.3).
	Loader interface {
		Load(ctx context.Context, ref topic.TemplateRef) (string, error)
	}

	// ResolverHook is a named, idempotent, side-effect-free function that
	// produces a parameter value for the current request. Resolver hooks are
	// expected to be async observers of other services (e.g. a
	// business-context lookup) and must not mutate state.
	ResolverHook func(ctx context.Context, userCtx UserContext) (any, error)

	// UserContext carries the caller identity available to resolver hooks.
	UserContext struct {
		TenantID string
		UserID   string
	}

	// cacheEntry holds a cached raw template load.
	cacheEntry struct {
		text      string
		expiresAt time.Time
	}

	// Renderer resolves and renders a topic's template roles.
	Renderer struct {
		loader    Loader
		resolvers map[string]ResolverHook
		ttl       time.Duration

		mu    sync.Mutex
		cache map[string]cacheEntry
	}

	// Option configures a Renderer.
	Option func(*Renderer)
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// ErrMissingParameter indicates a required parameter could not be resolved
// through any of the three resolution steps.
var ErrMissingParameter = errors.New("template: missing required parameter")

// ErrNullParameter indicates a required parameter resolved to nil.
var ErrNullParameter = errors.New("template: required parameter is null")

// ErrUndeclaredPlaceholder indicates a template placeholder does not
// correspond to any declared parameter. Registration-time checks in
// agent/topic should make this impossible in practice; the renderer
// re-detects it defensively (spec.md 4.3).
var ErrUndeclaredPlaceholder = errors.New("template: undeclared placeholder")

// ErrTemplateRoleNotDefined indicates the topic has no reference for the
// requested role.
var ErrTemplateRoleNotDefined = errors.New("template: role not defined for topic")

const defaultCacheTTL = 5 * time.Minute

// WithResolvers registers named resolver hooks available to parameter
// descriptors that declare a Resolver name.
func WithResolvers(resolvers map[string]ResolverHook) Option {
	return func(r *Renderer) {
		for k, v := range resolvers {
			r.resolvers[k] = v
		}
	}
}

// WithCacheTTL overrides the default bounded TTL used when no explicit
// invalidation notification has been received for a reference.
func WithCacheTTL(ttl time.Duration) Option {
	return func(r *Renderer) { r.ttl = ttl }
}

// NewRenderer constructs a Renderer backed by loader.
func NewRenderer(loader Loader, opts ...Option) *Renderer {
	r := &Renderer{
		loader:    loader,
		resolvers: make(map[string]ResolverHook),
		ttl:       defaultCacheTTL,
		cache:     make(map[string]cacheEntry),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ExtractPlaceholders returns the sorted, de-duplicated set of {{name}}
// placeholders appearing in text. Exported so agent/topic's registration-time
// eager check can use the same extraction logic the renderer uses at render
// time.
func ExtractPlaceholders(text string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		seen[m[1]] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Load returns the raw template text for ref, consulting the bounded cache
// first.
func (r *Renderer) Load(ctx context.Context, ref topic.TemplateRef) (string, error) {
	key := ref.Ref + "@" + ref.Version

	r.mu.Lock()
	if entry, ok := r.cache[key]; ok && time.Now().Before(entry.expiresAt) {
		r.mu.Unlock()
		return entry.text, nil
	}
	r.mu.Unlock()

	text, err := r.loader.Load(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("template: loading %s: %w", key, err)
	}

	r.mu.Lock()
	r.cache[key] = cacheEntry{text: text, expiresAt: time.Now().Add(r.ttl)}
	r.mu.Unlock()

	return text, nil
}

// Invalidate evicts any cached load for ref, to be called in response to an
// administrative update notification.
func (r *Renderer) Invalidate(ref topic.TemplateRef) {
	key := ref.Ref + "@" + ref.Version
	r.mu.Lock()
	delete(r.cache, key)
	r.mu.Unlock()
}

// Render resolves def's declared parameters against params/userCtx and
// renders the template registered for role. params holds caller-supplied
// values keyed by parameter name.
func (r *Renderer) Render(ctx context.Context, def topic.Definition, role topic.TemplateRole, params map[string]any, userCtx UserContext) (string, error) {
	ref, ok := def.Templates[role]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrTemplateRoleNotDefined, def.ID, role)
	}
	text, err := r.Load(ctx, ref)
	if err != nil {
		return "", err
	}

	declared := make(map[string]topic.ParameterDescriptor, len(def.Parameters))
	for _, p := range def.Parameters {
		declared[p.Name] = p
	}

	placeholders := ExtractPlaceholders(text)
	resolved := make(map[string]string, len(placeholders))
	for _, name := range placeholders {
		desc, ok := declared[name]
		if !ok {
			return "", fmt.Errorf("%w: %s/%s references %q", ErrUndeclaredPlaceholder, def.ID, role, name)
		}
		value, err := r.resolveParameter(ctx, desc, params, userCtx)
		if err != nil {
			return "", err
		}
		resolved[name] = value
	}

	return placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		return resolved[sub[1]]
	}), nil
}

// resolveParameter implements the fixed resolution order: caller value,
// resolver hook, declared default, then MissingParameter/NullParameter
// (spec.md 4.3).
func (r *Renderer) resolveParameter(ctx context.Context, desc topic.ParameterDescriptor, params map[string]any, userCtx UserContext) (string, error) {
	value, present := params[desc.Name]

	if !present && desc.Resolver != "" {
		hook, ok := r.resolvers[desc.Resolver]
		if ok {
			v, err := hook(ctx, userCtx)
			if err != nil {
				return "", fmt.Errorf("template: resolver %q for %q: %w", desc.Resolver, desc.Name, err)
			}
			value, present = v, true
		}
	}

	if !present {
		if desc.Default != nil {
			value, present = desc.Default, true
		}
	}

	if !present {
		if desc.Required {
			return "", fmt.Errorf("%w: %s", ErrMissingParameter, desc.Name)
		}
		return "", nil
	}

	if value == nil {
		if desc.Required {
			return "", fmt.Errorf("%w: %s", ErrNullParameter, desc.Name)
		}
		return "", nil
	}

	return renderValue(value), nil
}

// renderValue applies the fixed textual-representation policy: numbers and
// booleans use canonical forms; arrays/objects render as a compact,
// deterministic representation, with each element or value rendered by
// this same policy and object keys in sorted order. Their contents are not
// validated against any declared structure (spec.md 4.3, "opaque").
func renderValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = renderValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s: %s", k, renderValue(val[k]))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", val)
	}
}
