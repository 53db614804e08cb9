package push

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced to callers as typed labels.
var (
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrNotFound          = errors.New("not found")
)

// ProviderErrorCode classifies a structured provider failure.
type ProviderErrorCode string

const (
	// ProviderTokenInvalid means the token is permanently unusable
	// (unregistered, malformed, wrong recipient).
	ProviderTokenInvalid ProviderErrorCode = "token_invalid"
	// ProviderRateLimited means the send was rejected transiently and could
	// be retried at provider level.
	ProviderRateLimited ProviderErrorCode = "rate_limited"
	// ProviderRejected means the provider rejected the payload itself.
	ProviderRejected ProviderErrorCode = "rejected"
)

// ProviderError is the structured error a platform pusher returns. Pushers
// translate SDK-specific failures into this shape so classification stays
// provider-neutral.
type ProviderError struct {
	Code   ProviderErrorCode
	Reason string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Reason)
}
