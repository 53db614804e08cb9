// Package pipeline contains the message processing components that bridge the
// inbound request channel to the dispatch engine.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// ServerRequestTransformer is a dataflow Transformer that decodes a raw
// channel message into a push.ServerRequest envelope.
//
// A message that cannot be parsed, or that carries no correlation id, cannot
// be answered: it is skipped so the StreamingService can handle the Nack/DLQ
// logic. All further validation happens in the processor, which can still
// respond to the caller.
func ServerRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*push.ServerRequest, bool, error) {
	var req push.ServerRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal server request from message %s: %w", msg.ID, err)
	}
	if req.RequestID == "" {
		return nil, true, fmt.Errorf("server request from message %s is missing a requestID", msg.ID)
	}
	return &req, false, nil
}
