package dispatch

import (
	"context"
	"log/slog"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// Reconciler applies classified outcomes to the device registry: remove dead
// tokens, rotate replaced ones, leave everything else alone.
type Reconciler struct {
	devices push.DeviceStore
	logger  *slog.Logger
}

func NewReconciler(devices push.DeviceStore, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		devices: devices,
		logger:  logger.With("component", "Reconciler"),
	}
}

// Reconcile mutates the registry for the given outcome. A reconciliation
// failure must not abort delivery to the remaining devices, so errors are
// logged and swallowed here.
func (r *Reconciler) Reconcile(ctx context.Context, device push.Device, outcome Outcome) {
	switch outcome.Kind {
	case OutcomeTokenInvalid:
		if err := r.devices.Remove(ctx, device.Token); err != nil {
			r.logger.Error("Failed to remove invalid token", "token", device.Token, "err", err)
		}

	case OutcomeTokenRotated:
		if err := r.devices.Remove(ctx, device.Token); err != nil {
			r.logger.Error("Failed to remove rotated token", "token", device.Token, "err", err)
		}
		replacement := push.Device{
			Token:    outcome.NewToken,
			UserID:   device.UserID,
			Platform: device.Platform,
		}
		if err := r.devices.Save(ctx, &replacement); err != nil {
			r.logger.Error("Failed to register replacement token", "token", outcome.NewToken, "err", err)
		}

	default:
		// Delivered, rate limited and send failures leave the registry
		// untouched.
	}
}
