package firestore

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

const deliveryLogCollection = "delivery_log"

// deliveryLogDoc is the internal DB representation of one audit entry.
type deliveryLogDoc struct {
	ProviderID     string    `firestore:"firebase_id"`
	NotificationID string    `firestore:"notification_id"`
	DeviceToken    string    `firestore:"device_token"`
	Status         string    `firestore:"status"`
	Details        string    `firestore:"details,omitempty"`
	CreatedAt      time.Time `firestore:"created_at"`
}

// DeliveryLogStore implements push.DeliveryLogStore using Firestore.
type DeliveryLogStore struct {
	client *firestore.Client
}

func NewDeliveryLogStore(client *firestore.Client) *DeliveryLogStore {
	return &DeliveryLogStore{client: client}
}

// Append writes one audit entry. A missing provider id gets a locally
// generated one. Create (not Set) keeps the log append-only: an entry is
// never overwritten once written.
func (s *DeliveryLogStore) Append(ctx context.Context, e *push.DeliveryLogEntry) error {
	if e.ProviderID == "" {
		e.ProviderID = "System-" + uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	doc := deliveryLogDoc{
		ProviderID:     e.ProviderID,
		NotificationID: e.NotificationID,
		DeviceToken:    e.DeviceToken,
		Status:         string(e.Status),
		Details:        e.Details,
		CreatedAt:      e.CreatedAt,
	}
	if _, err := s.collection().Doc(e.ProviderID).Create(ctx, doc); err != nil {
		return fmt.Errorf("failed to append delivery log entry %s: %w", e.ProviderID, err)
	}
	return nil
}

func (s *DeliveryLogStore) ListByNotification(ctx context.Context, notificationID string) ([]push.DeliveryLogEntry, error) {
	iter := s.collection().Where("notification_id", "==", notificationID).Documents(ctx)
	defer iter.Stop()

	var entries []push.DeliveryLogEntry
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var doc deliveryLogDoc
		if err := snap.DataTo(&doc); err != nil {
			continue
		}
		entries = append(entries, push.DeliveryLogEntry{
			ProviderID:     doc.ProviderID,
			NotificationID: doc.NotificationID,
			DeviceToken:    doc.DeviceToken,
			Status:         push.LogStatus(doc.Status),
			Details:        doc.Details,
			CreatedAt:      doc.CreatedAt,
		})
	}
	return entries, nil
}

func (s *DeliveryLogStore) collection() *firestore.CollectionRef {
	return s.client.Collection(deliveryLogCollection)
}
