// Package dispatch implements the notification dispatch engine: outcome
// classification, device registry reconciliation and the per-send
// orchestration.
package dispatch

import (
	"errors"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// OutcomeKind is the closed set of per-device delivery outcomes.
type OutcomeKind string

const (
	// OutcomeDelivered means the provider accepted the message.
	OutcomeDelivered OutcomeKind = "delivered"
	// OutcomeTokenRotated means the provider issued a replacement token.
	OutcomeTokenRotated OutcomeKind = "token_rotated"
	// OutcomeTokenInvalid means the token is permanently unusable and must
	// be removed from the registry.
	OutcomeTokenInvalid OutcomeKind = "token_invalid"
	// OutcomeRateLimited is a transient provider rejection; logged but no
	// registry mutation and no retry by this engine.
	OutcomeRateLimited OutcomeKind = "rate_limited"
	// OutcomeSendFailed is a payload-level rejection; the notification is
	// marked errored unless another device already delivered.
	OutcomeSendFailed OutcomeKind = "send_failed"
)

// Outcome is the classified result of one provider send.
type Outcome struct {
	Kind      OutcomeKind
	MessageID string
	NewToken  string
	Reason    string
}

// Classify derives an Outcome purely from the provider's structured
// receipt/error. Unknown error shapes map to OutcomeSendFailed: we never
// guess token validity from a shape we don't recognise.
func Classify(receipt push.Receipt, err error) Outcome {
	if err == nil {
		if receipt.NewToken != "" {
			return Outcome{
				Kind:      OutcomeTokenRotated,
				MessageID: receipt.MessageID,
				NewToken:  receipt.NewToken,
			}
		}
		return Outcome{Kind: OutcomeDelivered, MessageID: receipt.MessageID}
	}

	var provErr *push.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case push.ProviderTokenInvalid:
			return Outcome{Kind: OutcomeTokenInvalid, Reason: provErr.Reason}
		case push.ProviderRateLimited:
			return Outcome{Kind: OutcomeRateLimited, Reason: provErr.Reason}
		case push.ProviderRejected:
			return Outcome{Kind: OutcomeSendFailed, Reason: provErr.Reason}
		}
	}

	return Outcome{Kind: OutcomeSendFailed, Reason: err.Error()}
}
