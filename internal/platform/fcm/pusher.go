// Package fcm adapts Firebase Cloud Messaging to the push.Pusher contract.
package fcm

import (
	"context"
	"log/slog"
	"strings"

	"firebase.google.com/go/v4/messaging"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
type MessagingClient interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

type Pusher struct {
	client MessagingClient
	logger *slog.Logger
}

// NewPusher accepts the concrete client but stores it as the interface.
// Note: *messaging.Client automatically satisfies this interface.
func NewPusher(client MessagingClient, logger *slog.Logger) *Pusher {
	return &Pusher{
		client: client,
		logger: logger.With("component", "FCMPusher"),
	}
}

// Push sends one payload to one token. SDK failures are translated into
// structured push.ProviderError values for classification.
func (p *Pusher) Push(ctx context.Context, token string, payload push.Payload) (push.Receipt, error) {
	msg := buildMessage(token, payload)

	name, err := p.client.Send(ctx, msg)
	if err != nil {
		return push.Receipt{}, translateError(err)
	}

	return push.Receipt{MessageID: messageIDFrom(name)}, nil
}

func buildMessage(token string, payload push.Payload) *messaging.Message {
	msg := &messaging.Message{
		Token: token,
		Data:  payload.Data,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
	}

	badge := payload.Badge
	if payload.Platform == push.PlatformIOS {
		msg.APNS = &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Badge: &badge},
			},
		}
	} else {
		msg.Android = &messaging.AndroidConfig{
			Notification: &messaging.AndroidNotification{
				ClickAction:       payload.ClickAction,
				NotificationCount: &badge,
			},
		}
	}
	return msg
}

// translateError maps the SDK's error predicates onto the provider error
// codes the classifier understands. Anything unrecognised is a plain
// rejection: token validity is never guessed.
func translateError(err error) error {
	switch {
	case messaging.IsRegistrationTokenNotRegistered(err),
		messaging.IsInvalidArgument(err),
		messaging.IsSenderIDMismatch(err):
		return &push.ProviderError{Code: push.ProviderTokenInvalid, Reason: err.Error()}
	case messaging.IsQuotaExceeded(err),
		messaging.IsUnavailable(err),
		messaging.IsInternal(err):
		return &push.ProviderError{Code: push.ProviderRateLimited, Reason: err.Error()}
	default:
		return &push.ProviderError{Code: push.ProviderRejected, Reason: err.Error()}
	}
}

// messageIDFrom extracts the message id from the resource name the send API
// returns: projects/{project_id}/messages/{message_id}.
func messageIDFrom(name string) string {
	parts := strings.Split(name, "/")
	return parts[len(parts)-1]
}
