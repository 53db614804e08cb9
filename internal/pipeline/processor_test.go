package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-push-dispatch/internal/pipeline"
	urn "github.com/tinywideclouds/go-platform/pkg/net/v1"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Typed Mocks ---

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Send(ctx context.Context, req push.SendRequest) (*push.Notification, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Notification), args.Error(1)
}

type mockNotificationStore struct {
	mock.Mock
}

func (m *mockNotificationStore) Save(ctx context.Context, n *push.Notification) error {
	return m.Called(ctx, n).Error(0)
}
func (m *mockNotificationStore) Get(ctx context.Context, id string) (*push.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Notification), args.Error(1)
}
func (m *mockNotificationStore) ListByUser(ctx context.Context, user urn.URN, q push.ListQuery) (*push.NotificationPage, error) {
	args := m.Called(ctx, user, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.NotificationPage), args.Error(1)
}
func (m *mockNotificationStore) CountUnread(ctx context.Context, user urn.URN) (int, error) {
	args := m.Called(ctx, user)
	return args.Int(0), args.Error(1)
}
func (m *mockNotificationStore) MarkRead(ctx context.Context, id string) (*push.Notification, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*push.Notification), args.Error(1)
}
func (m *mockNotificationStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
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

// capturingPublisher records responses instead of publishing them.
type capturingPublisher struct {
	responses []*push.ServerResponse
	err       error
}

func (p *capturingPublisher) Publish(_ context.Context, resp *push.ServerResponse) error {
	if p.err != nil {
		return p.err
	}
	p.responses = append(p.responses, resp)
	return nil
}

func (p *capturingPublisher) last(t *testing.T) *push.ServerResponse {
	t.Helper()
	require.NotEmpty(t, p.responses)
	return p.responses[len(p.responses)-1]
}

func requestMessage(t *testing.T, requestID string, requestType push.RequestType, params any) (messagepipeline.Message, *push.ServerRequest) {
	t.Helper()
	raw, err := json.Marshal(params)
	require.NoError(t, err)
	req := &push.ServerRequest{
		RequestID:     requestID,
		RequestType:   requestType,
		RequestParams: raw,
	}
	return messagepipeline.Message{MessageData: messagepipeline.MessageData{ID: "psid-" + requestID}}, req
}

func TestProcessor_SendMessage(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Success wraps the notification in the response", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		publisher := &capturingPublisher{}
		user, _ := urn.Parse("urn:sm:user:alice")

		dispatcher.On("Send", mock.Anything, mock.MatchedBy(func(req push.SendRequest) bool {
			return req.UserID == "urn:sm:user:alice" && req.TemplateID == "new_message"
		})).Return(&push.Notification{ID: "n-1", UserID: user}, nil)

		processor := pipeline.NewProcessor(dispatcher, new(mockNotificationStore), new(mockDeviceStore), publisher, logger)
		msg, req := requestMessage(t, "req-1", push.RequestSendMessage, map[string]string{
			"userId":     "urn:sm:user:alice",
			"templateId": "new_message",
		})

		err := processor(ctx, msg, req)

		require.NoError(t, err)
		resp := publisher.last(t)
		assert.Equal(t, "req-1", resp.RequestID)
		assert.Empty(t, resp.ErrorMessage)
		require.IsType(t, &push.Notification{}, resp.Response)
		assert.Equal(t, "n-1", resp.Response.(*push.Notification).ID)
		dispatcher.AssertExpectations(t)
	})

	t.Run("Dispatch validation failure becomes invalid_parameters", func(t *testing.T) {
		dispatcher := new(mockDispatcher)
		publisher := &capturingPublisher{}
		dispatcher.On("Send", mock.Anything, mock.Anything).
			Return(nil, push.ErrInvalidParameters)

		processor := pipeline.NewProcessor(dispatcher, new(mockNotificationStore), new(mockDeviceStore), publisher, logger)
		msg, req := requestMessage(t, "req-2", push.RequestSendMessage, map[string]string{})

		err := processor(ctx, msg, req)

		require.NoError(t, err)
		assert.Equal(t, push.ErrorLabelInvalidParameters, publisher.last(t).ErrorMessage)
	})
}

func TestProcessor_GetMessage(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Found", func(t *testing.T) {
		notifications := new(mockNotificationStore)
		publisher := &capturingPublisher{}
		notifications.On("Get", mock.Anything, "n-9").
			Return(&push.Notification{ID: "n-9"}, nil)

		processor := pipeline.NewProcessor(new(mockDispatcher), notifications, new(mockDeviceStore), publisher, logger)
		msg, req := requestMessage(t, "req-3", push.RequestGetMessage, map[string]string{"notificationID": "n-9"})

		err := processor(ctx, msg, req)

		require.NoError(t, err)
		resp := publisher.last(t)
		assert.Empty(t, resp.ErrorMessage)
		assert.Equal(t, "n-9", resp.Response.(*push.Notification).ID)
	})

	t.Run("Missing record maps to not_found", func(t *testing.T) {
		notifications := new(mockNotificationStore)
		publisher := &capturingPublisher{}
		notifications.On("Get", mock.Anything, "ghost").
			Return(nil, push.ErrNotFound)

		processor := pipeline.NewProcessor(new(mockDispatcher), notifications, new(mockDeviceStore), publisher, logger)
		msg, req := requestMessage(t, "req-4", push.RequestGetMessage, map[string]string{"notificationID": "ghost"})

		err := processor(ctx, msg, req)

		require.NoError(t, err)
		assert.Equal(t, push.ErrorLabelNotFound, publisher.last(t).ErrorMessage)
	})

	t.Run("Missing notificationID maps to invalid_parameters", func(t *testing.T) {
		publisher := &capturingPublisher{}
		processor := pipeline.NewProcessor(new(mockDispatcher), new(mockNotificationStore), new(mockDeviceStore), publisher, logger)
		msg, req := requestMessage(t, "req-5", push.RequestGetMessage, map[string]string{})

		err := processor(ctx, msg, req)

		require.NoError(t, err)
		assert.Equal(t, push.ErrorLabelInvalidParameters, publisher.last(t).ErrorMessage)
	})
}

func TestProcessor_RemoveUser(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Removes all registrations, idempotent", func(t *testing.T) {
		devices := new(mockDeviceStore)
		publisher := &capturingPublisher{}
		user, _ := urn.Parse("urn:sm:user:leaver")
		devices.On("RemoveByUser", mock.Anything, user).Return(nil)

		processor := pipeline.NewProcessor(new(mockDispatcher), new(mockNotificationStore), devices, publisher, logger)
		msg, req := requestMessage(t, "req-6", push.RequestRemoveUser, map[string]string{"userId": "urn:sm:user:leaver"})

		err := processor(ctx, msg, req)

		require.NoError(t, err)
		assert.Empty(t, publisher.last(t).ErrorMessage)
		devices.AssertExpectations(t)
	})

	t.Run("Malformed userId maps to invalid_parameters", func(t *testing.T) {
		publisher := &capturingPublisher{}
		processor := pipeline.NewProcessor(new(mockDispatcher), new(mockNotificationStore), new(mockDeviceStore), publisher, logger)
		msg, req := requestMessage(t, "req-7", push.RequestRemoveUser, map[string]string{"userId": "not-a-urn"})

		err := processor(ctx, msg, req)

		require.NoError(t, err)
		assert.Equal(t, push.ErrorLabelInvalidParameters, publisher.last(t).ErrorMessage)
	})
}

func TestProcessor_Envelope(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()

	t.Run("Unknown requestType maps to invalid_parameters", func(t *testing.T) {
		publisher := &capturingPublisher{}
		processor := pipeline.NewProcessor(new(mockDispatcher), new(mockNotificationStore), new(mockDeviceStore), publisher, logger)
		msg, req := requestMessage(t, "req-8", "self_destruct", map[string]string{})

		err := processor(ctx, msg, req)

		require.NoError(t, err)
		assert.Equal(t, push.ErrorLabelInvalidParameters, publisher.last(t).ErrorMessage)
	})

	t.Run("Missing requestParams maps to invalid_parameters", func(t *testing.T) {
		publisher := &capturingPublisher{}
		processor := pipeline.NewProcessor(new(mockDispatcher), new(mockNotificationStore), new(mockDeviceStore), publisher, logger)
		req := &push.ServerRequest{RequestID: "req-9", RequestType: push.RequestGetMessage}

		err := processor(ctx, messagepipeline.Message{}, req)

		require.NoError(t, err)
		assert.Equal(t, push.ErrorLabelInvalidParameters, publisher.last(t).ErrorMessage)
	})

	t.Run("Publish failure is returned for redelivery", func(t *testing.T) {
		publisher := &capturingPublisher{err: errors.New("topic unavailable")}
		processor := pipeline.NewProcessor(new(mockDispatcher), new(mockNotificationStore), new(mockDeviceStore), publisher, logger)
		msg, req := requestMessage(t, "req-10", "self_destruct", map[string]string{})

		err := processor(ctx, msg, req)

		require.Error(t, err)
	})
}
