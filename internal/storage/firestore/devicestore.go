package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

const devicesCollection = "devices"

// deviceDoc is the internal DB representation of one registration.
type deviceDoc struct {
	Token     string    `firestore:"token"`
	UserID    string    `firestore:"user_id"`
	Platform  string    `firestore:"platform"`
	CreatedAt time.Time `firestore:"created_at"`
}

// DeviceStore implements push.DeviceStore using Firestore. The document id
// is a hash of the token, so the most recent write for a token wins
// ownership regardless of which user presented it.
type DeviceStore struct {
	client *firestore.Client
}

func NewDeviceStore(client *firestore.Client) *DeviceStore {
	return &DeviceStore{client: client}
}

func (s *DeviceStore) Save(ctx context.Context, d *push.Device) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	doc := deviceDoc{
		Token:     d.Token,
		UserID:    d.UserID.String(),
		Platform:  string(d.Platform),
		CreatedAt: d.CreatedAt,
	}
	if _, err := s.deviceRef(d.Token).Set(ctx, doc); err != nil {
		return fmt.Errorf("failed to save device registration: %w", err)
	}
	return nil
}

func (s *DeviceStore) Get(ctx context.Context, token string) (*push.Device, error) {
	snap, err := s.deviceRef(token).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("device registration: %w", push.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get device registration: %w", err)
	}

	var doc deviceDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode device registration: %w", err)
	}
	return deviceFromDoc(doc)
}

// Remove deletes a registration. Removing an absent token is a no-op.
func (s *DeviceStore) Remove(ctx context.Context, token string) error {
	if _, err := s.deviceRef(token).Delete(ctx); err != nil {
		return fmt.Errorf("failed to remove device registration: %w", err)
	}
	return nil
}

func (s *DeviceStore) ListByUser(ctx context.Context, user urn.URN) ([]push.Device, error) {
	iter := s.collection().Where("user_id", "==", user.String()).Documents(ctx)
	defer iter.Stop()

	var devices []push.Device
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var doc deviceDoc
		if err := snap.DataTo(&doc); err != nil {
			// Safe to skip corrupt rows.
			continue
		}
		device, err := deviceFromDoc(doc)
		if err != nil {
			continue
		}
		devices = append(devices, *device)
	}
	return devices, nil
}

// RemoveByUser cascade-removes every registration for a user. Idempotent:
// a user with no registrations is a no-op.
func (s *DeviceStore) RemoveByUser(ctx context.Context, user urn.URN) error {
	devices, err := s.ListByUser(ctx, user)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		return nil
	}

	bw := s.client.BulkWriter(ctx)
	for _, device := range devices {
		if _, err := bw.Delete(s.deviceRef(device.Token)); err != nil {
			bw.End()
			return fmt.Errorf("failed to queue device removal: %w", err)
		}
	}
	bw.End()
	return nil
}

func deviceFromDoc(doc deviceDoc) (*push.Device, error) {
	user, err := urn.Parse(doc.UserID)
	if err != nil {
		return nil, fmt.Errorf("device registration has malformed user id: %w", err)
	}
	return &push.Device{
		Token:     doc.Token,
		UserID:    user,
		Platform:  push.Platform(doc.Platform),
		CreatedAt: doc.CreatedAt,
	}, nil
}

// deviceRef: devices/{tokenHash}. Hashing keeps raw tokens out of document
// ids and avoids hot-spotting.
func (s *DeviceStore) deviceRef(token string) *firestore.DocumentRef {
	return s.collection().Doc(hashToken(token))
}

func (s *DeviceStore) collection() *firestore.CollectionRef {
	return s.client.Collection(devicesCollection)
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
