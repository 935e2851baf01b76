// Package extraction implements structured-result extraction from a
// finished conversation transcript: it renders a topic's ResultSchema into a
// normalized textual form for the extraction prompt, dispatches to the
// Provider Gateway, and validates the returned JSON against the same schema
// compiled as a JSON Schema document.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mottych/purposepath-ai/agent/model"
	"github.com/mottych/purposepath-ai/agent/topic"
)

type (
	// Dispatcher is the subset of the Provider Gateway the extractor needs:
	// a single non-streaming call against a resolved model code.
	Dispatcher interface {
		Dispatch(ctx context.Context, req DispatchRequest) (*model.Response, error)
	}

	// DispatchRequest mirrors the fields of provider.DispatchRequest the
	// extractor populates. Declared locally to keep this package free of a
	// direct dependency on the provider package's fallback-specific fields.
	DispatchRequest struct {
		CorrelationID     string
		PrimaryModelCode  string
		FallbackModelCode string
		Messages          []model.Message
		Temperature       float64
		MaxTokens         int
	}

	// Request captures one extraction attempt's inputs.
	Request struct {
		// CorrelationID is forwarded to the dispatcher for log correlation.
		CorrelationID string

		// ModelCode is the model to extract with (the per-role override
		// from runtime configuration, or the session's own model).
		ModelCode string

		// FallbackModelCode, when set, is the model the Gateway falls back
		// to after primary-with-backoff is exhausted on a transient error.
		FallbackModelCode string

		// MaxTokens bounds the extraction completion.
		MaxTokens int

		// ExtractionInstructions is the topic's extraction-role template,
		// rendered, concatenated ahead of the normalized schema text.
		ExtractionInstructions string

		// Transcript is the deterministic, role-prefixed, chronological
		// serialization of the conversation.
		Transcript string
	}

	// Extractor extracts and validates structured results.
	Extractor struct {
		dispatcher Dispatcher
	}
)

// extractionTemperature is deliberately low and fixed: spec.md 4.5 step 3
// calls for "conservative sampling (low temperature...)" on the extraction
// call, and 8's idempotence property requires temperature 0 determinism.
const extractionTemperature = 0

// ErrExtractionFailed indicates both the initial extraction attempt and its
// single retry failed to produce schema-valid JSON. The session remains
// Active; it is never moved to Completed on this error.
var ErrExtractionFailed = errors.New("extraction: failed to produce a schema-valid result")

// NewExtractor builds an Extractor dispatching model calls through
// dispatcher.
func NewExtractor(dispatcher Dispatcher) *Extractor {
	return &Extractor{dispatcher: dispatcher}
}

// Extract performs the extraction call, retrying once on parse/validation
// failure with an explicit reminder appended, per spec.md 4.5 step 5.
func (e *Extractor) Extract(ctx context.Context, schema *topic.ResultSchema, req Request) (map[string]any, error) {
	compiled, err := compileSchema(schema)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling result schema: %w", ErrExtractionFailed, err)
	}

	system := req.ExtractionInstructions + "\n\n" + renderSchema(schema)
	messages := []model.Message{
		{Role: model.RoleSystem, Content: system},
		{Role: model.RoleUser, Content: req.Transcript},
	}

	result, firstErr := e.attempt(ctx, compiled, req, messages)
	if firstErr == nil {
		return result, nil
	}

	messages = append(messages, model.Message{
		Role: model.RoleUser,
		Content: "Your previous output did not match the required schema: " + firstErr.Error() +
			". Respond again with only a single JSON object matching the schema.",
	})
	result, secondErr := e.attempt(ctx, compiled, req, messages)
	if secondErr == nil {
		return result, nil
	}
	return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, secondErr)
}

func (e *Extractor) attempt(ctx context.Context, compiled *jsonschema.Schema, req Request, messages []model.Message) (map[string]any, error) {
	resp, err := e.dispatcher.Dispatch(ctx, DispatchRequest{
		CorrelationID:     req.CorrelationID,
		PrimaryModelCode:  req.ModelCode,
		FallbackModelCode: req.FallbackModelCode,
		Messages:          messages,
		Temperature:       extractionTemperature,
		MaxTokens:         req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Text)), &doc); err != nil {
		return nil, fmt.Errorf("parsing extraction output: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("validating extraction output: %w", err)
	}
	obj, ok := doc.(map[string]any)
	if !ok {
		return nil, errors.New("extraction output is not a JSON object")
	}
	return obj, nil
}

// extractJSONObject trims any surrounding prose a model may have added
// around the JSON object, taking the outermost {...} span.
func extractJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end < start {
		return text
	}
	return text[start : end+1]
}

// compileSchema translates the declarative ResultSchema into a JSON Schema
// document and compiles it.
func compileSchema(schema *topic.ResultSchema) (*jsonschema.Schema, error) {
	doc := schemaToJSONSchema(topic.SchemaField{Kind: topic.ValueKindObject, Fields: schema.Fields, Required: true})
	c := jsonschema.NewCompiler()
	if err := c.AddResource(schema.ID+".json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	return c.Compile(schema.ID + ".json")
}

func schemaToJSONSchema(f topic.SchemaField) map[string]any {
	switch f.Kind {
	case topic.ValueKindObject:
		props := make(map[string]any, len(f.Fields))
		var required []string
		for _, child := range f.Fields {
			props[child.Name] = schemaToJSONSchema(child)
			if child.Required {
				required = append(required, child.Name)
			}
		}
		doc := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			doc["required"] = required
		}
		return doc
	case topic.ValueKindArray:
		items := map[string]any{"type": "string"}
		if f.Items != nil {
			items = schemaToJSONSchema(*f.Items)
		}
		return map[string]any{"type": "array", "items": items}
	case topic.ValueKindNumber:
		return map[string]any{"type": "number"}
	case topic.ValueKindBoolean:
		return map[string]any{"type": "boolean"}
	default:
		return map[string]any{"type": "string"}
	}
}

// renderSchema produces the normalized textual rendering of schema injected
// into the extraction system prompt.
func renderSchema(schema *topic.ResultSchema) string {
	var b strings.Builder
	b.WriteString("Required JSON output schema:\n")
	renderFields(&b, schema.Fields, 0)
	return b.String()
}

func renderFields(b *strings.Builder, fields []topic.SchemaField, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, f := range fields {
		req := "optional"
		if f.Required {
			req = "required"
		}
		fmt.Fprintf(b, "%s- %s: %s (%s)\n", indent, f.Name, f.Kind, req)
		if f.Kind == topic.ValueKindObject {
			renderFields(b, f.Fields, depth+1)
		}
		if f.Kind == topic.ValueKindArray && f.Items != nil && f.Items.Kind == topic.ValueKindObject {
			renderFields(b, f.Items.Fields, depth+1)
		}
	}
}
