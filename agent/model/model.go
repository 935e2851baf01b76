// Package model defines the provider-agnostic message and completion types
// shared by the template renderer, the provider gateway, and the extraction
// subsystem. It intentionally models conversations as plain role+text
// messages: the coaching engine does not support tool use, multimodal
// content, or streaming (see the provider gateway's Non-goals), so there is
// no part-based content model here, unlike richer agent runtimes.
package model

import "context"

type (
	// ConversationRole is the role of a single message in a conversation.
	ConversationRole string

	// Message is a single chat message exchanged with a provider.
	Message struct {
		// Role identifies the speaker for this message.
		Role ConversationRole

		// Content is the message text.
		Content string
	}

	// TokenUsage tracks token counts for a model call.
	TokenUsage struct {
		// InputTokens is the number of tokens consumed by inputs.
		InputTokens int

		// OutputTokens is the number of tokens produced by outputs.
		OutputTokens int

		// TotalTokens is the total number of tokens consumed by the call.
		TotalTokens int
	}

	// Request captures inputs for a single model invocation.
	Request struct {
		// Model is the concrete provider model identifier to call.
		Model string

		// Messages is the ordered transcript provided to the model.
		Messages []Message

		// Temperature controls sampling when supported by the provider.
		Temperature float64

		// MaxTokens caps the number of output tokens when supported.
		MaxTokens int
	}

	// Response is the result of a non-streaming invocation.
	Response struct {
		// Text is the assistant completion text.
		Text string

		// Usage reports token consumption for the request.
		Usage TokenUsage

		// FinishReason records why generation stopped (provider-specific, e.g.
		// "stop", "max_tokens", "end_turn").
		FinishReason string

		// ModelUsed records the model code that actually served the request
		// (the fallback model's code after a fallback). The provider gateway
		// sets it; adapters leave it empty.
		ModelUsed string

		// ElapsedMS is the wall-clock duration of the call in milliseconds.
		ElapsedMS int64
	}

	// Client is the provider-agnostic model client. Implementations translate
	// a Request into a single provider call and adapt the result back into
	// Response. There is no streaming method: the engine's contract is
	// strictly non-streaming (spec Non-goals).
	Client interface {
		// Complete performs a single non-streaming model invocation. Complete
		// must honor ctx cancellation and abort the in-flight provider call
		// promptly, returning ctx.Err() (wrapped as ErrCancelled by callers
		// that need the engine's error taxonomy).
		Complete(ctx context.Context, req *Request) (*Response, error)
	}
)

const (
	// RoleSystem is the role for system messages.
	RoleSystem ConversationRole = "system"

	// RoleUser is the role for user messages.
	RoleUser ConversationRole = "user"

	// RoleAssistant is the role for assistant messages.
	RoleAssistant ConversationRole = "assistant"
)
