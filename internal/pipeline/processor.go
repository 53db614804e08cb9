package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Dispatcher is the slice of the orchestrator the processor needs.
type Dispatcher interface {
	Send(ctx context.Context, req push.SendRequest) (*push.Notification, error)
}

// NewProcessor creates the request/response correlator. Each invocation
// handles exactly one inbound request end-to-end: route by type, execute,
// wrap the result or a typed error label into a response envelope keyed by
// the caller's correlation id, and publish it to the outbound channel.
//
// Only a publish failure is returned to the pipeline (the subscription's
// retry/DLQ policy owns redelivery); every processing failure is converted
// into a structured response so the caller never sees an unstructured error.
func NewProcessor(
	dispatcher Dispatcher,
	notifications push.NotificationStore,
	devices push.DeviceStore,
	publisher push.ResponsePublisher,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[push.ServerRequest] {

	h := &handler{
		dispatcher:    dispatcher,
		notifications: notifications,
		devices:       devices,
	}

	return func(ctx context.Context, original messagepipeline.Message, req *push.ServerRequest) error {
		procLogger := logger.With(
			"request_id", req.RequestID,
			"request_type", string(req.RequestType),
			"pubsub_msg_id", original.ID,
		)

		resp := h.handle(ctx, req, procLogger)
		if err := publisher.Publish(ctx, resp); err != nil {
			procLogger.Error("Failed to publish response", "err", err)
			return err // Retryable
		}
		return nil
	}
}

type handler struct {
	dispatcher    Dispatcher
	notifications push.NotificationStore
	devices       push.DeviceStore
}

func (h *handler) handle(ctx context.Context, req *push.ServerRequest, logger *slog.Logger) *push.ServerResponse {
	if req.RequestType == "" {
		logger.Warn("Request is missing requestType")
		return errorResponse(req.RequestID, push.ErrorLabelInvalidParameters)
	}
	if len(req.RequestParams) == 0 {
		logger.Warn("Request is missing requestParams")
		return errorResponse(req.RequestID, push.ErrorLabelInvalidParameters)
	}

	var (
		payload any
		err     error
	)
	switch req.RequestType {
	case push.RequestGetMessage:
		payload, err = h.getMessage(ctx, req.RequestParams)
	case push.RequestRemoveUser:
		err = h.removeUser(ctx, req.RequestParams)
	case push.RequestSendMessage:
		payload, err = h.sendMessage(ctx, req.RequestParams)
	default:
		logger.Warn("Unknown requestType")
		return errorResponse(req.RequestID, push.ErrorLabelInvalidParameters)
	}

	if err != nil {
		logger.Error("Request failed", "err", err)
		return errorResponse(req.RequestID, errorLabelFor(err))
	}
	return &push.ServerResponse{RequestID: req.RequestID, Response: payload}
}

type getMessageParams struct {
	NotificationID string `json:"notificationID"`
}

func (h *handler) getMessage(ctx context.Context, params json.RawMessage) (*push.Notification, error) {
	var p getMessageParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", push.ErrInvalidParameters, err)
	}
	if p.NotificationID == "" {
		return nil, fmt.Errorf("%w: missing notificationID", push.ErrInvalidParameters)
	}
	return h.notifications.Get(ctx, p.NotificationID)
}

type removeUserParams struct {
	UserID string `json:"userId"`
}

func (h *handler) removeUser(ctx context.Context, params json.RawMessage) error {
	var p removeUserParams
	if err := json.Unmarshal(params, &p); err != nil {
		return fmt.Errorf("%w: %v", push.ErrInvalidParameters, err)
	}
	if p.UserID == "" {
		return fmt.Errorf("%w: missing userId", push.ErrInvalidParameters)
	}
	user, err := urn.Parse(p.UserID)
	if err != nil {
		return fmt.Errorf("%w: malformed userId: %v", push.ErrInvalidParameters, err)
	}
	// Idempotent: removing a user with no registrations is a no-op.
	return h.devices.RemoveByUser(ctx, user)
}

func (h *handler) sendMessage(ctx context.Context, params json.RawMessage) (*push.Notification, error) {
	var req push.SendRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", push.ErrInvalidParameters, err)
	}
	return h.dispatcher.Send(ctx, req)
}

// errorLabelFor collapses any failure into one of the closed response
// labels. Unanticipated errors map to invalid_parameters so the caller never
// receives an unstructured failure.
func errorLabelFor(err error) string {
	if errors.Is(err, push.ErrNotFound) {
		return push.ErrorLabelNotFound
	}
	return push.ErrorLabelInvalidParameters
}

func errorResponse(requestID, label string) *push.ServerResponse {
	return &push.ServerResponse{RequestID: requestID, ErrorMessage: label}
}
