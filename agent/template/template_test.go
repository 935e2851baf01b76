package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mottych/purposepath-ai/agent/topic"
)

type mapLoader struct {
	texts map[string]string
	loads int
}

func (l *mapLoader) Load(_ context.Context, ref topic.TemplateRef) (string, error) {
	l.loads++
	return l.texts[ref.Ref], nil
}

func defWithParam(required bool, def any, resolver string) topic.Definition {
	return topic.Definition{
		ID: "T1",
		Templates: map[topic.TemplateRole]topic.TemplateRef{
			topic.RoleSystem: {Ref: "system"},
		},
		Parameters: []topic.ParameterDescriptor{
			{Name: "name", Required: required, Default: def, Resolver: resolver},
		},
	}
}

func TestRender_UsesCallerSuppliedValue(t *testing.T) {
	t.Parallel()

	loader := &mapLoader{texts: map[string]string{"system": "Hello {{name}}"}}
	r := NewRenderer(loader)

	out, err := r.Render(context.Background(), defWithParam(true, nil, ""), topic.RoleSystem, map[string]any{"name": "Ada"}, UserContext{})
	require.NoError(t, err)
	require.Equal(t, "Hello Ada", out)
}

func TestRender_FallsBackToResolverThenDefault(t *testing.T) {
	t.Parallel()

	loader := &mapLoader{texts: map[string]string{"system": "Hello {{name}}"}}
	resolverCalled := false
	r := NewRenderer(loader, WithResolvers(map[string]ResolverHook{
		"lookup": func(context.Context, UserContext) (any, error) {
			resolverCalled = true
			return "Resolved", nil
		},
	}))

	out, err := r.Render(context.Background(), defWithParam(true, "Default", "lookup"), topic.RoleSystem, nil, UserContext{})
	require.NoError(t, err)
	require.True(t, resolverCalled)
	require.Equal(t, "Hello Resolved", out)
}

func TestRender_UsesDefaultWhenResolverAbsent(t *testing.T) {
	t.Parallel()

	loader := &mapLoader{texts: map[string]string{"system": "Hello {{name}}"}}
	r := NewRenderer(loader)

	out, err := r.Render(context.Background(), defWithParam(true, "Default", ""), topic.RoleSystem, nil, UserContext{})
	require.NoError(t, err)
	require.Equal(t, "Hello Default", out)
}

func TestRender_MissingRequiredParameterErrors(t *testing.T) {
	t.Parallel()

	loader := &mapLoader{texts: map[string]string{"system": "Hello {{name}}"}}
	r := NewRenderer(loader)

	_, err := r.Render(context.Background(), defWithParam(true, nil, ""), topic.RoleSystem, nil, UserContext{})
	require.ErrorIs(t, err, ErrMissingParameter)
}

func TestRender_MissingOptionalParameterRendersEmpty(t *testing.T) {
	t.Parallel()

	loader := &mapLoader{texts: map[string]string{"system": "Hello {{name}}!"}}
	r := NewRenderer(loader)

	out, err := r.Render(context.Background(), defWithParam(false, nil, ""), topic.RoleSystem, nil, UserContext{})
	require.NoError(t, err)
	require.Equal(t, "Hello !", out)
}

func TestRender_UndeclaredPlaceholderErrors(t *testing.T) {
	t.Parallel()

	loader := &mapLoader{texts: map[string]string{"system": "Hello {{stranger}}"}}
	r := NewRenderer(loader)

	_, err := r.Render(context.Background(), defWithParam(false, nil, ""), topic.RoleSystem, nil, UserContext{})
	require.ErrorIs(t, err, ErrUndeclaredPlaceholder)
}

func TestRender_MissingTemplateRoleErrors(t *testing.T) {
	t.Parallel()

	loader := &mapLoader{texts: map[string]string{}}
	r := NewRenderer(loader)

	_, err := r.Render(context.Background(), topic.Definition{ID: "T1"}, topic.RoleInitiation, nil, UserContext{})
	require.ErrorIs(t, err, ErrTemplateRoleNotDefined)
}

func TestLoad_CachesAcrossCalls(t *testing.T) {
	t.Parallel()

	loader := &mapLoader{texts: map[string]string{"system": "cached text"}}
	r := NewRenderer(loader)
	ref := topic.TemplateRef{Ref: "system"}

	_, err := r.Load(context.Background(), ref)
	require.NoError(t, err)
	_, err = r.Load(context.Background(), ref)
	require.NoError(t, err)

	require.Equal(t, 1, loader.loads)
}

func TestInvalidate_ForcesReload(t *testing.T) {
	t.Parallel()

	loader := &mapLoader{texts: map[string]string{"system": "v1"}}
	r := NewRenderer(loader)
	ref := topic.TemplateRef{Ref: "system"}

	_, err := r.Load(context.Background(), ref)
	require.NoError(t, err)

	r.Invalidate(ref)
	loader.texts["system"] = "v2"

	text, err := r.Load(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, "v2", text)
	require.Equal(t, 2, loader.loads)
}
