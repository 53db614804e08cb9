package push

import (
	"context"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Pusher delivers one rendered payload to one device token. Implementations
// translate SDK failures into *ProviderError; any other error is treated as
// an unclassified rejection.
type Pusher interface {
	Push(ctx context.Context, token string, payload Payload) (Receipt, error)
}

// ListQuery bounds a notification listing. Cursor is the opaque NextCursor
// of a previous page.
type ListQuery struct {
	Limit         int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Cursor        string
}

// NotificationPage is one page of a user's notifications, newest first.
type NotificationPage struct {
	Items      []Notification `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

// NotificationStore persists notification records. Save fills id, createdAt
// and the two new statuses when absent.
type NotificationStore interface {
	Save(ctx context.Context, n *Notification) error
	Get(ctx context.Context, id string) (*Notification, error)
	ListByUser(ctx context.Context, user urn.URN, q ListQuery) (*NotificationPage, error)
	CountUnread(ctx context.Context, user urn.URN) (int, error)
	MarkRead(ctx context.Context, id string) (*Notification, error)
	Delete(ctx context.Context, id string) error
}

// DeviceStore is the device token registry. The most recent write for a
// given token wins ownership.
type DeviceStore interface {
	Save(ctx context.Context, d *Device) error
	Get(ctx context.Context, token string) (*Device, error)
	Remove(ctx context.Context, token string) error
	ListByUser(ctx context.Context, user urn.URN) ([]Device, error)
	RemoveByUser(ctx context.Context, user urn.URN) error
}

// DeliveryLogStore records per-device delivery attempts. Entries are
// immutable once appended.
type DeliveryLogStore interface {
	Append(ctx context.Context, e *DeliveryLogEntry) error
	ListByNotification(ctx context.Context, notificationID string) ([]DeliveryLogEntry, error)
}

// ResponsePublisher publishes correlated response envelopes to the outbound
// channel.
type ResponsePublisher interface {
	Publish(ctx context.Context, resp *ServerResponse) error
}
