// Package firestore implements the service's stores on Google Cloud
// Firestore. Each entity has exactly one document mapping, kept next to the
// store that owns it.
package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/firestore/apiv1/firestorepb"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

const (
	notificationsCollection = "notifications"
	defaultListLimit        = 100
)

// notificationDoc is the internal DB representation of one notification.
type notificationDoc struct {
	ID           string     `firestore:"id"`
	UserID       string     `firestore:"user_id"`
	CreatedAt    time.Time  `firestore:"created_at"`
	Type         string     `firestore:"type"`
	Status       string     `firestore:"status"`
	SystemStatus string     `firestore:"system_status"`
	Payload      []byte     `firestore:"notification_payload,omitempty"`
	Texts        textsDoc   `firestore:"texts"`
	Details      string     `firestore:"details,omitempty"`
	ExpiresAt    *time.Time `firestore:"expires_at,omitempty"`
}

type textsDoc struct {
	IOS     textDoc `firestore:"ios"`
	Android textDoc `firestore:"android"`
}

type textDoc struct {
	Title string `firestore:"title"`
	Body  string `firestore:"body"`
}

func notificationToDoc(n *push.Notification) notificationDoc {
	return notificationDoc{
		ID:           n.ID,
		UserID:       n.UserID.String(),
		CreatedAt:    n.CreatedAt,
		Type:         string(n.Type),
		Status:       string(n.Status),
		SystemStatus: string(n.SystemStatus),
		Payload:      n.Payload,
		Texts: textsDoc{
			IOS:     textDoc{Title: n.Texts.IOS.Title, Body: n.Texts.IOS.Body},
			Android: textDoc{Title: n.Texts.Android.Title, Body: n.Texts.Android.Body},
		},
		Details:   n.Details,
		ExpiresAt: n.ExpiresAt,
	}
}

func notificationFromDoc(doc notificationDoc) (*push.Notification, error) {
	user, err := urn.Parse(doc.UserID)
	if err != nil {
		return nil, fmt.Errorf("notification %s has malformed user id: %w", doc.ID, err)
	}
	return &push.Notification{
		ID:           doc.ID,
		UserID:       user,
		CreatedAt:    doc.CreatedAt,
		Type:         push.NotificationType(doc.Type),
		Status:       push.Status(doc.Status),
		SystemStatus: push.SystemStatus(doc.SystemStatus),
		Payload:      doc.Payload,
		Texts: push.Texts{
			IOS:     push.Text{Title: doc.Texts.IOS.Title, Body: doc.Texts.IOS.Body},
			Android: push.Text{Title: doc.Texts.Android.Title, Body: doc.Texts.Android.Body},
		},
		Details:   doc.Details,
		ExpiresAt: doc.ExpiresAt,
	}, nil
}

// NotificationStore implements push.NotificationStore using Firestore.
type NotificationStore struct {
	client *firestore.Client
}

func NewNotificationStore(client *firestore.Client) *NotificationStore {
	return &NotificationStore{client: client}
}

// Save persists the record, filling id, createdAt and the two statuses when
// absent. The filled values are written back into n.
func (s *NotificationStore) Save(ctx context.Context, n *push.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.Status == "" {
		n.Status = push.StatusNew
	}
	if n.SystemStatus == "" {
		n.SystemStatus = push.SystemStatusNew
	}

	_, err := s.collection().Doc(n.ID).Set(ctx, notificationToDoc(n))
	if err != nil {
		return fmt.Errorf("failed to save notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *NotificationStore) Get(ctx context.Context, id string) (*push.Notification, error) {
	snap, err := s.collection().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("notification %s: %w", id, push.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get notification %s: %w", id, err)
	}

	var doc notificationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode notification %s: %w", id, err)
	}
	return notificationFromDoc(doc)
}

// ListByUser returns a page of the user's notifications, newest first. The
// cursor is the created_at of the previous page's last item.
func (s *NotificationStore) ListByUser(ctx context.Context, user urn.URN, q push.ListQuery) (*push.NotificationPage, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := s.collection().
		Where("user_id", "==", user.String()).
		OrderBy("created_at", firestore.Desc)
	if q.CreatedAfter != nil {
		query = query.Where("created_at", ">=", *q.CreatedAfter)
	}
	if q.CreatedBefore != nil {
		query = query.Where("created_at", "<", *q.CreatedBefore)
	}
	if q.Cursor != "" {
		cursor, err := time.Parse(time.RFC3339Nano, q.Cursor)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed cursor", push.ErrInvalidParameters)
		}
		query = query.StartAfter(cursor)
	}
	query = query.Limit(limit)

	iter := query.Documents(ctx)
	defer iter.Stop()

	page := &push.NotificationPage{Items: make([]push.Notification, 0, limit)}
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var doc notificationDoc
		if err := snap.DataTo(&doc); err != nil {
			// Safe to skip corrupt rows.
			continue
		}
		n, err := notificationFromDoc(doc)
		if err != nil {
			continue
		}
		page.Items = append(page.Items, *n)
	}

	if len(page.Items) == limit {
		page.NextCursor = page.Items[len(page.Items)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

// CountUnread runs a count-only aggregation over the user's unread
// notifications.
func (s *NotificationStore) CountUnread(ctx context.Context, user urn.URN) (int, error) {
	query := s.collection().
		Where("user_id", "==", user.String()).
		Where("status", "==", string(push.StatusNew))

	results, err := query.NewAggregationQuery().WithCount("unread").Get(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}

	value, ok := results["unread"]
	if !ok {
		return 0, fmt.Errorf("aggregation result missing count field")
	}
	count, ok := value.(*firestorepb.Value)
	if !ok {
		return 0, fmt.Errorf("unexpected aggregation result type %T", value)
	}
	return int(count.GetIntegerValue()), nil
}

// MarkRead advances the caller-visible status new -> read. Marking an
// already-read notification is a no-op.
func (s *NotificationStore) MarkRead(ctx context.Context, id string) (*push.Notification, error) {
	n, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.Status == push.StatusRead {
		return n, nil
	}

	_, err = s.collection().Doc(id).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(push.StatusRead)},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mark notification %s read: %w", id, err)
	}
	n.Status = push.StatusRead
	return n, nil
}

func (s *NotificationStore) Delete(ctx context.Context, id string) error {
	if _, err := s.collection().Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete notification %s: %w", id, err)
	}
	return nil
}

func (s *NotificationStore) collection() *firestore.CollectionRef {
	return s.client.Collection(notificationsCollection)
}
