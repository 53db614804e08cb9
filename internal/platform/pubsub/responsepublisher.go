// Package pubsub publishes response envelopes to the outbound channel.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Publisher defines the subset of the Pub/Sub publisher API we use.
type Publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) *gcppubsub.PublishResult
}

// ResponsePublisher serializes response envelopes onto a Pub/Sub topic. The
// publish is awaited so a broker failure surfaces to the pipeline for
// redelivery.
type ResponsePublisher struct {
	publisher Publisher
	logger    *slog.Logger
}

func NewResponsePublisher(publisher Publisher, logger *slog.Logger) *ResponsePublisher {
	return &ResponsePublisher{
		publisher: publisher,
		logger:    logger.With("component", "ResponsePublisher"),
	}
}

func (p *ResponsePublisher) Publish(ctx context.Context, resp *push.ServerResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to marshal response envelope: %w", err)
	}

	result := p.publisher.Publish(ctx, &gcppubsub.Message{Data: data})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("failed to publish response for request %s: %w", resp.RequestID, err)
	}

	p.logger.Debug("Response published", "request_id", resp.RequestID, "error_label", resp.ErrorMessage)
	return nil
}
