// Package apns provides the client for the Apple Push Notification Service.
package apns

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 file
	P8KeyContent string
}

type Pusher struct {
	client APNSClient
	topic  string // The App Bundle ID
	logger *slog.Logger
}

// NewPusher creates a configured APNs pusher. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewPusher(cfg Config, logger *slog.Logger) (*Pusher, error) {
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("failed to parse APNs P8 key: %w", err)
	}

	tokenSource := &token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}

	return &Pusher{
		client: apns2.NewTokenClient(tokenSource),
		topic:  cfg.BundleID,
		logger: logger.With("component", "APNSPusher"),
	}, nil
}

// Push sends one payload to one APNs token. APNs's HTTP/2 API is unary, so
// transport failures classify as transient.
func (p *Pusher) Push(_ context.Context, deviceToken string, pl push.Payload) (push.Receipt, error) {
	builder := payload.NewPayload().
		AlertTitle(pl.Title).
		AlertBody(pl.Body).
		Badge(pl.Badge)
	for k, v := range pl.Data {
		builder.Custom(k, v)
	}

	res, err := p.client.Push(&apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
		Payload:     builder,
	})
	if err != nil {
		return push.Receipt{}, &push.ProviderError{
			Code:   push.ProviderRateLimited,
			Reason: fmt.Sprintf("apns transport failed: %v", err),
		}
	}

	if res.Sent() {
		return push.Receipt{MessageID: res.ApnsID}, nil
	}

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return push.Receipt{}, &push.ProviderError{Code: push.ProviderTokenInvalid, Reason: res.Reason}
	case apns2.ReasonTooManyRequests, apns2.ReasonServiceUnavailable, apns2.ReasonInternalServerError, apns2.ReasonShutdown:
		return push.Receipt{}, &push.ProviderError{Code: push.ProviderRateLimited, Reason: res.Reason}
	default:
		p.logger.Warn("APNs rejected notification", "reason", res.Reason, "status", res.StatusCode)
		return push.Receipt{}, &push.ProviderError{Code: push.ProviderRejected, Reason: res.Reason}
	}
}
