// Package provider implements the Provider Gateway (C4): it resolves a
// model code to a concrete provider adapter via the Model Registry,
// dispatches the request, and applies the fallback policy (single retry
// against the primary with exponential backoff, then a single attempt
// against an optional fallback model) before surfacing failure.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/semaphore"

	"github.com/mottych/purposepath-ai/agent/model"
	"github.com/mottych/purposepath-ai/agent/modelregistry"
)

type (
	// Gateway dispatches rendered message sets to named LLM backends.
	Gateway struct {
		registry  *modelregistry.Registry
		adapters  map[string]model.Client
		semaphore map[string]*semaphore.Weighted
		logger    Logger
	}

	// Logger is the minimal logging port the gateway uses to record fallback
	// events with a correlation id (spec.md 4.4: "Every fallback event is
	// logged with correlation id").
	Logger interface {
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
	}

	// DispatchRequest captures a single gateway invocation.
	DispatchRequest struct {
		// CorrelationID is logged alongside any fallback event.
		CorrelationID string

		// PrimaryModelCode is the model code to try first.
		PrimaryModelCode string

		// FallbackModelCode is an optional secondary model code tried once
		// after the primary is exhausted.
		FallbackModelCode string

		// Messages is the rendered message sequence.
		Messages []model.Message

		// Temperature and MaxTokens are sampling parameters.
		Temperature float64
		MaxTokens   int
	}

	noopLogger struct{}
)

func (noopLogger) Info(context.Context, string, ...any) {}
func (noopLogger) Warn(context.Context, string, ...any) {}

// ErrModelUnavailable indicates the requested model code is missing or
// inactive in the Model Registry.
var ErrModelUnavailable = errors.New("provider: model unavailable")

// ErrProviderRejected indicates a non-transient provider failure (invalid
// request, content-policy refusal, auth failure); the gateway never retries
// this class of error.
var ErrProviderRejected = errors.New("provider: rejected")

// ErrProviderUnavailable indicates all attempts (primary retry + fallback)
// were exhausted against transient failures.
var ErrProviderUnavailable = errors.New("provider: unavailable after retries")

// ErrCancelled indicates the call was aborted via context cancellation.
var ErrCancelled = errors.New("provider: cancelled")

// ErrUnknownProviderTag indicates a Model Entry references a provider tag
// with no adapter wired into this Gateway.
var ErrUnknownProviderTag = errors.New("provider: no adapter wired for provider tag")

// NewGateway constructs a Gateway. adapters maps a provider tag (as declared
// on Model Entries, e.g. "anthropic") to the model.Client that serves it.
// concurrency bounds the number of in-flight calls per provider tag
// (section 5: "per-provider semaphore configured at startup"); a zero or
// negative value means unbounded.
func NewGateway(registry *modelregistry.Registry, adapters map[string]model.Client, concurrency map[string]int64, logger Logger) *Gateway {
	if logger == nil {
		logger = noopLogger{}
	}
	sems := make(map[string]*semaphore.Weighted, len(adapters))
	for tag := range adapters {
		n := concurrency[tag]
		if n <= 0 {
			continue
		}
		sems[tag] = semaphore.NewWeighted(n)
	}
	return &Gateway{registry: registry, adapters: adapters, semaphore: sems, logger: logger}
}

// Dispatch executes req, applying the fallback policy. It returns the
// completion text, the concrete model code that actually served the
// request, and token usage/finish-reason metadata.
func (g *Gateway) Dispatch(ctx context.Context, req DispatchRequest) (*model.Response, error) {
	resp, err := g.tryModel(ctx, req.PrimaryModelCode, req, true)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrProviderRejected) || errors.Is(err, ErrCancelled) || errors.Is(err, ErrModelUnavailable) {
		return nil, err
	}

	if req.FallbackModelCode == "" {
		return nil, err
	}

	g.logger.Warn(ctx, "provider fallback engaged",
		"correlation_id", req.CorrelationID,
		"primary_model", req.PrimaryModelCode,
		"fallback_model", req.FallbackModelCode,
		"primary_error", err.Error(),
	)

	resp, fbErr := g.tryModel(ctx, req.FallbackModelCode, req, false)
	if fbErr != nil {
		if errors.Is(fbErr, ErrProviderRejected) || errors.Is(fbErr, ErrCancelled) || errors.Is(fbErr, ErrModelUnavailable) {
			return nil, fbErr
		}
		return nil, fmt.Errorf("%w: primary and fallback both failed: %w", ErrProviderUnavailable, fbErr)
	}
	return resp, nil
}

// tryModel resolves modelCode and calls the provider, retrying once with
// exponential backoff when retryOnce is true and the failure is transient
// (spec.md 4.4: "retries once against the primary (exponential backoff,
// single retry), then once against the fallback").
func (g *Gateway) tryModel(ctx context.Context, modelCode string, req DispatchRequest, retryOnce bool) (*model.Response, error) {
	entry, err := g.registry.Resolve(modelCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrModelUnavailable, modelCode, err)
	}
	client, ok := g.adapters[entry.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProviderTag, entry.Provider)
	}

	sem := g.semaphore[entry.Provider]
	if sem != nil {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
		}
		defer sem.Release(1)
	}

	call := func() (*model.Response, error) {
		start := time.Now()
		pr := &model.Request{
			Model:       entry.ProviderModelID,
			Messages:    req.Messages,
			Temperature: req.Temperature,
			MaxTokens:   req.MaxTokens,
		}
		resp, err := client.Complete(ctx, pr)
		if err != nil {
			return nil, classify(err)
		}
		resp.ModelUsed = modelCode
		resp.ElapsedMS = time.Since(start).Milliseconds()
		return resp, nil
	}

	if !retryOnce {
		return call()
	}

	op := func() (*model.Response, error) {
		resp, err := call()
		if err != nil {
			if errors.Is(err, ErrProviderRejected) || errors.Is(err, ErrCancelled) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return resp, nil
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(2), // one retry beyond the initial attempt
	)
}

// classify maps a raw adapter error into the gateway's transient/rejected
// taxonomy (spec.md 4.4, 7).
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	if errors.Is(err, model.ErrRejected) {
		return fmt.Errorf("%w: %w", ErrProviderRejected, err)
	}
	if errors.Is(err, model.ErrRateLimited) || errors.Is(err, model.ErrUnavailable) {
		// Transient: let the caller's backoff.Retry loop handle the retry.
		return err
	}
	// Unclassified adapter errors are treated as transient infrastructure
	// failures rather than silently surfaced as rejections, matching the
	// teacher's bedrock adapter default of wrapping unknown Converse errors
	// without asserting they are non-retryable.
	return err
}
