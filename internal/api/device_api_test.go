package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-dispatch/internal/api"

	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

// --- Mocks ---

type MockDeviceStore struct {
	mock.Mock
}

func (m *MockDeviceStore) Save(ctx context.Context, d *push.Device) error {
	return m.Called(ctx, d).Error(0)
}
func (m *MockDeviceStore) Get(ctx context.Context, token string) (*push.Device, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Device), args.Error(1)
}
func (m *MockDeviceStore) Remove(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
func (m *MockDeviceStore) ListByUser(ctx context.Context, user urn.URN) ([]push.Device, error) {
	args := m.Called(ctx, user)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]push.Device), args.Error(1)
}
func (m *MockDeviceStore) RemoveByUser(ctx context.Context, user urn.URN) error {
	return m.Called(ctx, user).Error(0)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Helper to inject UserID into context (simulating Auth Middleware)
func withUser(req *http.Request, userID string) *http.Request {
	ctx := middleware.ContextWithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

// --- Tests ---

func TestRegisterDevice(t *testing.T) {
	targetURN, _ := urn.Parse("urn:sm:user:device-owner")

	t.Run("Success", func(t *testing.T) {
		mockStore := new(MockDeviceStore)
		apiHandler := api.NewDeviceAPI(mockStore, newTestLogger())

		body, _ := json.Marshal(api.RegisterDeviceRequest{Token: "fcm-token-abc", Platform: push.PlatformAndroid})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Save", mock.Anything, mock.MatchedBy(func(d *push.Device) bool {
			return d.Token == "fcm-token-abc" &&
				d.UserID.String() == targetURN.String() &&
				d.Platform == push.PlatformAndroid
		})).Return(nil)

		apiHandler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Replace removes the previous binding first", func(t *testing.T) {
		mockStore := new(MockDeviceStore)
		apiHandler := api.NewDeviceAPI(mockStore, newTestLogger())

		body, _ := json.Marshal(api.RegisterDeviceRequest{Token: "shared-token", Platform: push.PlatformIOS, Replace: true})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Remove", mock.Anything, "shared-token").Return(nil)
		mockStore.On("Save", mock.Anything, mock.Anything).Return(nil)

		apiHandler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Rejects Empty Token", func(t *testing.T) {
		mockStore := new(MockDeviceStore)
		apiHandler := api.NewDeviceAPI(mockStore, newTestLogger())

		body, _ := json.Marshal(api.RegisterDeviceRequest{Token: "", Platform: push.PlatformAndroid})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		mockStore.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("Rejects Unknown Platform", func(t *testing.T) {
		mockStore := new(MockDeviceStore)
		apiHandler := api.NewDeviceAPI(mockStore, newTestLogger())

		body, _ := json.Marshal(api.RegisterDeviceRequest{Token: "tok", Platform: "windows_phone"})
		req := withUser(httptest.NewRequest("POST", "/api/v1/devices", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		apiHandler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Rejects Unauthenticated", func(t *testing.T) {
		mockStore := new(MockDeviceStore)
		apiHandler := api.NewDeviceAPI(mockStore, newTestLogger())

		body, _ := json.Marshal(api.RegisterDeviceRequest{Token: "tok", Platform: push.PlatformIOS})
		req := httptest.NewRequest("POST", "/api/v1/devices", bytes.NewReader(body))
		w := httptest.NewRecorder()

		apiHandler.RegisterDevice(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestUnregisterDevice(t *testing.T) {
	targetURN, _ := urn.Parse("urn:sm:user:device-owner")

	t.Run("Success", func(t *testing.T) {
		mockStore := new(MockDeviceStore)
		apiHandler := api.NewDeviceAPI(mockStore, newTestLogger())

		body, _ := json.Marshal(map[string]string{"token": "stale-token"})
		req := withUser(httptest.NewRequest("DELETE", "/api/v1/devices", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Remove", mock.Anything, "stale-token").Return(nil)

		apiHandler.UnregisterDevice(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
		mockStore.AssertExpectations(t)
	})

	t.Run("Unknown token is still a 204", func(t *testing.T) {
		mockStore := new(MockDeviceStore)
		apiHandler := api.NewDeviceAPI(mockStore, newTestLogger())

		body, _ := json.Marshal(map[string]string{"token": "ghost-token"})
		req := withUser(httptest.NewRequest("DELETE", "/api/v1/devices", bytes.NewReader(body)), targetURN.String())
		w := httptest.NewRecorder()

		mockStore.On("Remove", mock.Anything, "ghost-token").Return(push.ErrNotFound)

		apiHandler.UnregisterDevice(w, req)

		assert.Equal(t, http.StatusNoContent, w.Code)
	})
}
