package model

import "errors"

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. The provider gateway classifies this as transient and retries
// per its fallback policy.
var ErrRateLimited = errors.New("model: rate limited")

// ErrUnavailable indicates the provider is unreachable (network error, 5xx).
// The provider gateway classifies this as transient.
var ErrUnavailable = errors.New("model: provider unavailable")

// ErrRejected indicates the provider rejected the request for a
// non-transient reason (invalid request, content-policy refusal, auth
// failure). The provider gateway never retries this class of error.
var ErrRejected = errors.New("model: provider rejected request")
