package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

type NotificationAPI struct {
	Store  push.NotificationStore
	Logs   push.DeliveryLogStore
	Logger *slog.Logger
}

func NewNotificationAPI(store push.NotificationStore, logs push.DeliveryLogStore, logger *slog.Logger) *NotificationAPI {
	return &NotificationAPI{
		Store:  store,
		Logs:   logs,
		Logger: logger,
	}
}

// ListNotifications returns a page of the caller's notifications, newest
// first. Query params: limit, cursor, after, before (RFC3339).
func (api *NotificationAPI) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := authenticatedUser(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	q := push.ListQuery{Cursor: r.URL.Query().Get("cursor")}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		q.Limit = limit
	}
	if raw := r.URL.Query().Get("after"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid after timestamp")
			return
		}
		q.CreatedAfter = &t
	}
	if raw := r.URL.Query().Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid before timestamp")
			return
		}
		q.CreatedBefore = &t
	}

	page, err := api.Store.ListByUser(ctx, user, q)
	if err != nil {
		if errors.Is(err, push.ErrInvalidParameters) {
			response.WriteJSONError(w, http.StatusBadRequest, "invalid cursor")
			return
		}
		api.Logger.Error("failed to list notifications", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, page)
}

// GetNotification fetches one notification. Records belonging to another
// user report not found rather than forbidden.
func (api *NotificationAPI) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := authenticatedUser(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n, err := api.Store.Get(ctx, r.PathValue("id"))
	if err != nil {
		if errors.Is(err, push.ErrNotFound) {
			response.WriteJSONError(w, http.StatusNotFound, "not found")
			return
		}
		api.Logger.Error("failed to get notification", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}
	if n.UserID.String() != user.String() {
		response.WriteJSONError(w, http.StatusNotFound, "not found")
		return
	}

	writeJSON(w, http.StatusOK, n)
}

// MarkRead advances the notification's read state. Idempotent.
func (api *NotificationAPI) MarkRead(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := authenticatedUser(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	n, err := api.Store.Get(ctx, id)
	if err != nil || n.UserID.String() != user.String() {
		response.WriteJSONError(w, http.StatusNotFound, "not found")
		return
	}

	updated, err := api.Store.MarkRead(ctx, id)
	if err != nil {
		api.Logger.Error("failed to mark notification read", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// UnreadCount reports the caller's unread badge count.
func (api *NotificationAPI) UnreadCount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := authenticatedUser(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	count, err := api.Store.CountUnread(ctx, user)
	if err != nil {
		api.Logger.Error("failed to count unread notifications", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// ListDeliveries exposes the per-device delivery log of one notification.
func (api *NotificationAPI) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, ok := authenticatedUser(ctx)
	if !ok {
		response.WriteJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	id := r.PathValue("id")
	n, err := api.Store.Get(ctx, id)
	if err != nil || n.UserID.String() != user.String() {
		response.WriteJSONError(w, http.StatusNotFound, "not found")
		return
	}

	entries, err := api.Logs.ListByNotification(ctx, id)
	if err != nil {
		api.Logger.Error("failed to list delivery log", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
