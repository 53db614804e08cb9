package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-dispatch/internal/template"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// statusDelta is the contribution of one device delivery to the
// notification's system status. Deltas are folded monotonically: delivered
// wins over error, and neither ever regresses to new.
type statusDelta int

const (
	deltaNone statusDelta = iota
	deltaError
	deltaDelivered
)

// Orchestrator coordinates one send end-to-end: badge, render, persist,
// fan-out, reconcile, log, final persist.
type Orchestrator struct {
	notifications push.NotificationStore
	devices       push.DeviceStore
	deliveryLog   push.DeliveryLogStore
	pushers       map[push.Platform]push.Pusher
	renderer      *template.Renderer
	reconciler    *Reconciler
	logger        *slog.Logger
}

func NewOrchestrator(
	notifications push.NotificationStore,
	devices push.DeviceStore,
	deliveryLog push.DeliveryLogStore,
	pushers map[push.Platform]push.Pusher,
	renderer *template.Renderer,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		notifications: notifications,
		devices:       devices,
		deliveryLog:   deliveryLog,
		pushers:       pushers,
		renderer:      renderer,
		reconciler:    NewReconciler(devices, logger),
		logger:        logger.With("component", "Orchestrator"),
	}
}

// Send executes one dispatch. Validation failures return
// push.ErrInvalidParameters; per-device delivery failures are isolated and
// captured in the notification's status and the delivery log instead.
func (o *Orchestrator) Send(ctx context.Context, req push.SendRequest) (*push.Notification, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("%w: missing userId", push.ErrInvalidParameters)
	}
	if req.TemplateID == "" {
		return nil, fmt.Errorf("%w: missing templateId", push.ErrInvalidParameters)
	}
	user, err := urn.Parse(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed userId: %v", push.ErrInvalidParameters, err)
	}
	if req.Type == "" {
		req.Type = push.TypeDefault
	}
	if req.Type != push.TypeDefault && req.Type != push.TypeSilent {
		return nil, fmt.Errorf("%w: unknown notification type %q", push.ErrInvalidParameters, req.Type)
	}

	sendLogger := o.logger.With("user", user.String(), "template_id", req.TemplateID)

	// The badge is computed once per send and embedded in every device
	// payload. Concurrent sends to the same user may read a stale count;
	// badges are advisory.
	badge, err := o.notifications.CountUnread(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	payloadIOS, err := o.renderer.Render(push.PlatformIOS, req.TemplateID, req.TemplateParams, req.AdditionalParams, badge)
	if err != nil {
		return nil, err
	}
	payloadAndroid, err := o.renderer.Render(push.PlatformAndroid, req.TemplateID, req.TemplateParams, req.AdditionalParams, badge)
	if err != nil {
		return nil, err
	}

	rawReq, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: unencodable request payload: %v", push.ErrInvalidParameters, err)
	}

	n := &push.Notification{
		ID:        req.ID,
		UserID:    user,
		Type:      req.Type,
		Payload:   rawReq,
		ExpiresAt: req.ExpiresAt,
		Texts: push.Texts{
			IOS:     push.Text{Title: payloadIOS.Title, Body: payloadIOS.Body},
			Android: push.Text{Title: payloadAndroid.Title, Body: payloadAndroid.Body},
		},
	}

	// Silent notifications are persisted but never fanned out.
	if req.Type == push.TypeSilent {
		if err := o.notifications.Save(ctx, n); err != nil {
			return nil, fmt.Errorf("failed to persist silent notification: %w", err)
		}
		return n, nil
	}

	// Persist before fan-out so the record is queryable even if delivery
	// fails midway.
	if err := o.notifications.Save(ctx, n); err != nil {
		return nil, fmt.Errorf("failed to persist notification: %w", err)
	}

	devices, err := o.devices.ListByUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	for _, device := range devices {
		payload := payloadAndroid
		if device.Platform == push.PlatformIOS {
			payload = payloadIOS
		}

		outcome := o.deliver(ctx, device, payload)
		o.reconciler.Reconcile(ctx, device, outcome)

		entry := logEntryFor(n.ID, device.Token, outcome)
		if err := o.deliveryLog.Append(ctx, &entry); err != nil {
			// An audit write failure is an unexpected fan-out failure: stop
			// iterating, mark the attempt errored and keep the partial
			// delivery already made.
			sendLogger.Error("Delivery log write failed, aborting fan-out", "token", device.Token, "err", err)
			n.Details = fmt.Sprintf("delivery log write failed: %v", err)
			applyStatus(n, deltaError)
			break
		}

		applyStatus(n, deltaFor(outcome))
	}

	if err := o.notifications.Save(ctx, n); err != nil {
		return n, fmt.Errorf("failed to persist final notification state: %w", err)
	}
	return n, nil
}

// deliver pushes one payload to one device and classifies the result. A
// device with no configured pusher classifies as a send failure rather than
// aborting the fan-out.
func (o *Orchestrator) deliver(ctx context.Context, device push.Device, payload push.Payload) Outcome {
	pusher, ok := o.pushers[device.Platform]
	if !ok {
		return Outcome{
			Kind:   OutcomeSendFailed,
			Reason: fmt.Sprintf("no pusher configured for platform %q", device.Platform),
		}
	}
	receipt, err := pusher.Push(ctx, device.Token, payload)
	return Classify(receipt, err)
}

// logEntryFor builds the single audit record a device delivery produces.
// ProviderID is left blank for failures; the store synthesizes one.
func logEntryFor(notificationID, token string, outcome Outcome) push.DeliveryLogEntry {
	entry := push.DeliveryLogEntry{
		NotificationID: notificationID,
		DeviceToken:    token,
		ProviderID:     outcome.MessageID,
	}

	switch outcome.Kind {
	case OutcomeDelivered:
		entry.Status = push.LogStatusDelivered
	case OutcomeTokenRotated:
		entry.Status = push.LogStatusTokenUpdate
		entry.Details = fmt.Sprintf("provider rotated the token to %s", outcome.NewToken)
	case OutcomeTokenInvalid:
		entry.Status = push.LogStatusError
		entry.Details = fmt.Sprintf("provider rejected the token: %s", outcome.Reason)
	case OutcomeRateLimited:
		entry.Status = push.LogStatusError
		entry.Details = fmt.Sprintf("provider rate limited: %s", outcome.Reason)
	default:
		entry.Status = push.LogStatusError
		entry.Details = outcome.Reason
	}
	return entry
}

func deltaFor(outcome Outcome) statusDelta {
	switch outcome.Kind {
	case OutcomeDelivered, OutcomeTokenRotated:
		return deltaDelivered
	case OutcomeSendFailed:
		return deltaError
	default:
		return deltaNone
	}
}

// applyStatus folds one delta into the notification. Delivered is sticky:
// later failures never downgrade it.
func applyStatus(n *push.Notification, delta statusDelta) {
	switch delta {
	case deltaDelivered:
		n.SystemStatus = push.SystemStatusDelivered
	case deltaError:
		if n.SystemStatus != push.SystemStatusDelivered {
			n.SystemStatus = push.SystemStatusError
		}
	}
}
