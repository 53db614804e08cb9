package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedDeviceStore is a decorator that adds read-aside caching of per-user
// device lists to any DeviceStore. Every registry write invalidates the
// owning user's list so a removed token stops receiving pushes immediately.
type CachedDeviceStore struct {
	realStore push.DeviceStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedDeviceStore(realStore push.DeviceStore, cache CacheClient, ttl time.Duration) *CachedDeviceStore {
	return &CachedDeviceStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedDeviceStore) ListByUser(ctx context.Context, user urn.URN) ([]push.Device, error) {
	key := s.cacheKey(user)

	var cached []push.Device
	if err := s.cache.Get(ctx, key, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.ListByUser(ctx, user)
	if err != nil {
		return nil, err
	}

	// Caching is an optimization, not a transaction. If Redis is down we
	// just serve from the store.
	_ = s.cache.Set(ctx, key, fresh, s.ttl)
	return fresh, nil
}

// Get is served from the source of truth: single-token reads are rare and
// ownership checks must not see stale data.
func (s *CachedDeviceStore) Get(ctx context.Context, token string) (*push.Device, error) {
	return s.realStore.Get(ctx, token)
}

// --- WRITE PATHS (Invalidate-on-Write) ---

func (s *CachedDeviceStore) Save(ctx context.Context, d *push.Device) error {
	if err := s.realStore.Save(ctx, d); err != nil {
		return err
	}
	return s.invalidate(ctx, d.UserID)
}

// Remove resolves the owning user first so their cached list can be
// invalidated. An unknown token still removes cleanly.
func (s *CachedDeviceStore) Remove(ctx context.Context, token string) error {
	device, err := s.realStore.Get(ctx, token)
	if err != nil && !errors.Is(err, push.ErrNotFound) {
		return err
	}

	if err := s.realStore.Remove(ctx, token); err != nil {
		return err
	}
	if device != nil {
		return s.invalidate(ctx, device.UserID)
	}
	return nil
}

func (s *CachedDeviceStore) RemoveByUser(ctx context.Context, user urn.URN) error {
	if err := s.realStore.RemoveByUser(ctx, user); err != nil {
		return err
	}
	return s.invalidate(ctx, user)
}

// --- Helpers ---

func (s *CachedDeviceStore) invalidate(ctx context.Context, user urn.URN) error {
	// Delete the key so the next ListByUser is forced back to the store.
	return s.cache.Del(ctx, s.cacheKey(user))
}

func (s *CachedDeviceStore) cacheKey(user urn.URN) string {
	return fmt.Sprintf("push:devices:%s", user.String())
}
