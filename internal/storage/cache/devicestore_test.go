package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatch/internal/storage/cache"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

var errCacheMiss = errors.New("cache miss")

// fakeCache is an in-memory CacheClient with call counters.
type fakeCache struct {
	entries map[string][]byte
	gets    int
	dels    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: map[string][]byte{}}
}

func (c *fakeCache) Get(_ context.Context, key string, dest interface{}) error {
	c.gets++
	raw, ok := c.entries[key]
	if !ok {
		return errCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *fakeCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.entries[key] = raw
	return nil
}

func (c *fakeCache) Del(_ context.Context, key string) error {
	c.dels++
	delete(c.entries, key)
	return nil
}

type mockDeviceStore struct {
	mock.Mock
}

func (m *mockDeviceStore) Save(ctx context.Context, d *push.Device) error {
	return m.Called(ctx, d).Error(0)
}
func (m *mockDeviceStore) Get(ctx context.Context, token string) (*push.Device, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Device), args.Error(1)
}
func (m *mockDeviceStore) Remove(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
func (m *mockDeviceStore) ListByUser(ctx context.Context, user urn.URN) ([]push.Device, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.Device), args.Error(1)
}
func (m *mockDeviceStore) RemoveByUser(ctx context.Context, user urn.URN) error {
	return m.Called(ctx, user).Error(0)
}

func TestCachedDeviceStore(t *testing.T) {
	ctx := context.Background()
	user, _ := urn.Parse("urn:sm:user:cached")
	devices := []push.Device{
		{Token: "token-1", UserID: user, Platform: push.PlatformAndroid},
	}

	t.Run("ListByUser populates on miss, serves from cache after", func(t *testing.T) {
		real := new(mockDeviceStore)
		fc := newFakeCache()
		store := cache.NewCachedDeviceStore(real, fc, time.Hour)

		real.On("ListByUser", mock.Anything, user).Return(devices, nil).Once()

		first, err := store.ListByUser(ctx, user)
		require.NoError(t, err)
		assert.Len(t, first, 1)

		second, err := store.ListByUser(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, "token-1", second[0].Token)

		// The second read must not hit the real store.
		real.AssertNumberOfCalls(t, "ListByUser", 1)
	})

	t.Run("Save invalidates the owner's list", func(t *testing.T) {
		real := new(mockDeviceStore)
		fc := newFakeCache()
		store := cache.NewCachedDeviceStore(real, fc, time.Hour)

		real.On("ListByUser", mock.Anything, user).Return(devices, nil)
		real.On("Save", mock.Anything, mock.Anything).Return(nil)

		_, err := store.ListByUser(ctx, user)
		require.NoError(t, err)

		err = store.Save(ctx, &push.Device{Token: "token-2", UserID: user, Platform: push.PlatformIOS})
		require.NoError(t, err)

		assert.Empty(t, fc.entries)
	})

	t.Run("Remove resolves the owner before invalidating", func(t *testing.T) {
		real := new(mockDeviceStore)
		fc := newFakeCache()
		store := cache.NewCachedDeviceStore(real, fc, time.Hour)

		real.On("Get", mock.Anything, "token-1").Return(&devices[0], nil)
		real.On("Remove", mock.Anything, "token-1").Return(nil)

		require.NoError(t, store.Remove(ctx, "token-1"))
		assert.Equal(t, 1, fc.dels)
	})

	t.Run("Remove of an unknown token still removes cleanly", func(t *testing.T) {
		real := new(mockDeviceStore)
		fc := newFakeCache()
		store := cache.NewCachedDeviceStore(real, fc, time.Hour)

		real.On("Get", mock.Anything, "ghost").Return(nil, push.ErrNotFound)
		real.On("Remove", mock.Anything, "ghost").Return(nil)

		require.NoError(t, store.Remove(ctx, "ghost"))
		assert.Zero(t, fc.dels)
	})

	t.Run("RemoveByUser invalidates", func(t *testing.T) {
		real := new(mockDeviceStore)
		fc := newFakeCache()
		store := cache.NewCachedDeviceStore(real, fc, time.Hour)

		real.On("RemoveByUser", mock.Anything, user).Return(nil)

		require.NoError(t, store.RemoveByUser(ctx, user))
		assert.Equal(t, 1, fc.dels)
	})

	t.Run("Store failure is not cached", func(t *testing.T) {
		real := new(mockDeviceStore)
		fc := newFakeCache()
		store := cache.NewCachedDeviceStore(real, fc, time.Hour)

		real.On("ListByUser", mock.Anything, user).Return(nil, errors.New("firestore down"))

		_, err := store.ListByUser(ctx, user)
		require.Error(t, err)
		assert.Empty(t, fc.entries)
	})
}
