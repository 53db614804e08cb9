// Package api holds the HTTP handlers for the simple CRUD surface: device
// registration and the notification read endpoints. These handlers do no
// branching logic beyond existence checks; all dispatch logic lives behind
// the inbound channel.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

type DeviceAPI struct {
	Store  push.DeviceStore
	Logger *slog.Logger
}

func NewDeviceAPI(store push.DeviceStore, logger *slog.Logger) *DeviceAPI {
	return &DeviceAPI{
		Store:  store,
		Logger: logger,
	}
}

type RegisterDeviceRequest struct {
	Token    string        `json:"token"`
	Platform push.Platform `json:"platform"`
	// Replace asks for any existing binding of this token to be removed
	// before registering; otherwise the write simply takes ownership.
	Replace bool `json:"replace,omitempty"`
}

func (api *DeviceAPI) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := authenticatedUser(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}
	if req.Platform != push.PlatformIOS && req.Platform != push.PlatformAndroid {
		response.WriteJSONError(w, http.StatusBadRequest, "unknown platform")
		return
	}

	if req.Replace {
		if err := api.Store.Remove(ctx, req.Token); err != nil {
			api.Logger.Warn("failed to remove previous binding", "err", err)
		}
	}

	device := push.Device{
		Token:    req.Token,
		UserID:   user,
		Platform: req.Platform,
	}
	if err := api.Store.Save(ctx, &device); err != nil {
		api.Logger.Error("failed to register device", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type UnregisterDeviceRequest struct {
	Token string `json:"token"`
}

func (api *DeviceAPI) UnregisterDevice(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := authenticatedUser(ctx); !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req UnregisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	if err := api.Store.Remove(ctx, req.Token); err != nil && !errors.Is(err, push.ErrNotFound) {
		// Log but don't fail hard; idempotency is preferred for unregister
		api.Logger.Warn("failed to unregister device", "err", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

// authenticatedUser pulls the caller's id out of the auth middleware
// context and parses it.
func authenticatedUser(ctx context.Context) (urn.URN, bool) {
	var zero urn.URN
	userID, ok := middleware.GetUserHandleFromContext(ctx)
	if !ok {
		return zero, false
	}
	user, err := urn.Parse(userID)
	if err != nil {
		return zero, false
	}
	return user, true
}
