package pushdispatch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-push-dispatch/internal/api"
	"github.com/tinywideclouds/go-push-dispatch/internal/dispatch"
	"github.com/tinywideclouds/go-push-dispatch/internal/pipeline"
	"github.com/tinywideclouds/go-push-dispatch/internal/template"
	"github.com/tinywideclouds/go-push-dispatch/pkg/push"
	"github.com/tinywideclouds/go-push-dispatch/pushdispatch/config"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[push.ServerRequest]
	logger          *slog.Logger
}

// New assembles the service: the request pipeline (consumer -> correlator ->
// response publisher) and the HTTP surface for device registration and
// notification reads.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	publisher push.ResponsePublisher,
	pushers map[push.Platform]push.Pusher,
	renderer *template.Renderer,
	notifications push.NotificationStore,
	devices push.DeviceStore,
	deliveryLog push.DeliveryLogStore,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Base Server
	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	// 2. Orchestrator + Processor
	orchestrator := dispatch.NewOrchestrator(notifications, devices, deliveryLog, pushers, renderer, logger)
	processor := pipeline.NewProcessor(orchestrator, notifications, devices, publisher, logger)

	// 3. Pipeline
	streamingService, err := messagepipeline.NewStreamingService(
		messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
		consumer,
		pipeline.ServerRequestTransformer,
		processor,
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create streaming service: %w", err)
	}

	// 4. API
	deviceAPI := api.NewDeviceAPI(devices, logger)
	notificationAPI := api.NewNotificationAPI(notifications, deliveryLog, logger)

	// Register Routes
	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)

	handle := func(pattern string, handlerFunc http.HandlerFunc) {
		mux.Handle(pattern, corsMiddleware(authMiddleware(handlerFunc)))
	}

	// 1. Device registry
	handle("POST /api/v1/devices", deviceAPI.RegisterDevice)
	handle("DELETE /api/v1/devices", deviceAPI.UnregisterDevice)

	// 2. Notification reads
	handle("GET /api/v1/notifications", notificationAPI.ListNotifications)
	handle("GET /api/v1/notifications/unread-count", notificationAPI.UnreadCount)
	handle("GET /api/v1/notifications/{id}", notificationAPI.GetNotification)
	handle("POST /api/v1/notifications/{id}/read", notificationAPI.MarkRead)
	handle("GET /api/v1/notifications/{id}/deliveries", notificationAPI.ListDeliveries)

	// 3. Global OPTIONS for the API namespace (CORS preflight)
	mux.Handle("OPTIONS /api/v1/", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Just returns 200 OK with CORS headers handled by middleware
	})))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	w.logger.Info("Core processing pipeline starting...")
	if err := w.pipelineService.Start(ctx); err != nil {
		return fmt.Errorf("failed to start processing service: %w", err)
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if err := w.pipelineService.Stop(ctx); err != nil {
		w.logger.Error("Processing pipeline shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
