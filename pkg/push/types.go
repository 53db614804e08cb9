// Package push contains the public domain models and collaborator interfaces
// for the push dispatch service.
package push

import (
	"encoding/json"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
)

// Platform identifies the device platform a token belongs to.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// NotificationType controls whether a notification fans out to devices.
// A silent notification is persisted but never delivered.
type NotificationType string

const (
	TypeDefault NotificationType = "default"
	TypeSilent  NotificationType = "silent"
)

// Status is the caller-visible read state. It only ever moves new -> read.
type Status string

const (
	StatusNew  Status = "new"
	StatusRead Status = "read"
)

// SystemStatus is the delivery outcome of one dispatch attempt. It only
// advances new -> delivered or new -> error, and never regresses from
// delivered within the same attempt.
type SystemStatus string

const (
	SystemStatusNew       SystemStatus = "new"
	SystemStatusDelivered SystemStatus = "delivered"
	SystemStatusError     SystemStatus = "error"
)

// LogStatus is the per-device outcome recorded in the delivery log.
type LogStatus string

const (
	LogStatusNew         LogStatus = "new"
	LogStatusTokenUpdate LogStatus = "tokenUpdate"
	LogStatusDelivered   LogStatus = "delivered"
	LogStatusError       LogStatus = "error"
)

// Text is a rendered title/body pair for one platform.
type Text struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Texts holds the rendered display strings per platform, kept on the
// notification record for display and audit.
type Texts struct {
	IOS     Text `json:"ios"`
	Android Text `json:"android"`
}

// Notification is one push message sent (or attempted) to a user.
type Notification struct {
	ID           string           `json:"id"`
	UserID       urn.URN          `json:"userId"`
	CreatedAt    time.Time        `json:"createdAt"`
	Type         NotificationType `json:"type"`
	Status       Status           `json:"status"`
	SystemStatus SystemStatus     `json:"systemStatus"`
	Payload      json.RawMessage  `json:"notificationPayload,omitempty"`
	Texts        Texts            `json:"texts"`
	Details      string           `json:"details,omitempty"`
	ExpiresAt    *time.Time       `json:"expiresAt,omitempty"`
}

// Device is one device token bound to a user. The token uniquely identifies
// at most one active registration.
type Device struct {
	Token     string    `json:"deviceToken"`
	UserID    urn.URN   `json:"userId"`
	Platform  Platform  `json:"platform"`
	CreatedAt time.Time `json:"createdAt"`
}

// DeliveryLogEntry is the append-only audit record of one attempted delivery
// to one device for one notification.
type DeliveryLogEntry struct {
	ProviderID     string    `json:"firebaseId"`
	NotificationID string    `json:"notificationId"`
	DeviceToken    string    `json:"deviceToken"`
	Status         LogStatus `json:"status"`
	Details        string    `json:"details,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// SendRequest is the payload of a send_message operation. UserID and
// TemplateID are required; Type defaults to "default".
type SendRequest struct {
	ID               string            `json:"id,omitempty"`
	UserID           string            `json:"userId"`
	TemplateID       string            `json:"templateId"`
	TemplateParams   map[string]string `json:"templateParams,omitempty"`
	AdditionalParams map[string]string `json:"additionalParams,omitempty"`
	Type             NotificationType  `json:"type,omitempty"`
	ExpiresAt        *time.Time        `json:"expiresAt,omitempty"`
}

// Payload is a rendered, platform-specific push payload. Badge carries the
// authoritative unread count and is always attached, including zero.
type Payload struct {
	Platform    Platform
	Title       string
	Body        string
	Badge       int
	ClickAction string
	Data        map[string]string
}

// Receipt is the structured success result of one provider send. NewToken is
// set when the provider issued a replacement token for the device.
type Receipt struct {
	MessageID string
	NewToken  string
}

// RequestType enumerates the operations the service accepts over the inbound
// channel.
type RequestType string

const (
	RequestGetMessage  RequestType = "get_message"
	RequestRemoveUser  RequestType = "remove_user"
	RequestSendMessage RequestType = "send_message"
)

// ServerRequest is one inbound channel message. RequestID is the caller's
// correlation id; a message without one cannot be answered and is dropped.
type ServerRequest struct {
	RequestID     string          `json:"requestID"`
	RequestType   RequestType     `json:"requestType"`
	RequestParams json.RawMessage `json:"requestParams,omitempty"`
}

// ServerResponse is the correlated response envelope published to the
// outbound channel. An empty ErrorMessage implies success.
type ServerResponse struct {
	RequestID    string `json:"requestID"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Response     any    `json:"response,omitempty"`
}

// Closed set of error labels a caller can receive.
const (
	ErrorLabelNotFound          = "not_found"
	ErrorLabelInvalidParameters = "invalid_parameters"
)
