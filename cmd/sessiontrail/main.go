// Package main is the entry point for the sessiontrail viewer server.
// The binary serves the read-only session viewer API over HTTP and pushes
// live metadata updates to connected WebSocket clients.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sessiontrail/sessiontrail/internal/common/config"
	"github.com/sessiontrail/sessiontrail/internal/common/httpmw"
	"github.com/sessiontrail/sessiontrail/internal/tracing"
	"github.com/sessiontrail/sessiontrail/internal/viewer/api"
	"github.com/sessiontrail/sessiontrail/internal/viewer/auth"
	"github.com/sessiontrail/sessiontrail/internal/viewer/query"
	"github.com/sessiontrail/sessiontrail/pkg/events"
	"github.com/sessiontrail/sessiontrail/pkg/events/bus"
	"github.com/sessiontrail/sessiontrail/pkg/logger"
	"github.com/sessiontrail/sessiontrail/pkg/push"
	"github.com/sessiontrail/sessiontrail/pkg/session"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	log.Info("Starting sessiontrail viewer...")

	if cfg.Viewer.BackendPasswordGenerated() {
		// Dev convenience only. Production deployments set
		// SESSIONTRAIL_VIEWER_BACKEND_PASSWORD.
		log.Warn("no viewer password configured, generated one for this run",
			zap.String("backend_password", cfg.Viewer.BackendPassword))
	}

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Initialize event bus (in-memory by default, NATS if configured)
	providedBus, busCleanup, err := events.Provide(bus.NATSConfig{
		URL:           cfg.NATS.URL,
		ClientID:      "sessiontrail-viewer",
		MaxReconnects: cfg.NATS.MaxReconnects,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize event bus", zap.Error(err))
	}
	defer func() { _ = busCleanup() }()

	// 5. Connect the session store
	mongoURI, err := cfg.MongoDB.ConnectionURI()
	if err != nil {
		log.Fatal("Failed to resolve MongoDB connection", zap.Error(err))
	}
	log.Info("Connecting to MongoDB...",
		zap.String("uri", session.RedactConnectionString(mongoURI)),
		zap.String("database", cfg.MongoDB.Database),
		zap.String("collection", cfg.MongoDB.Collection))

	factory, err := session.InitializeGlobalFactory(ctx, session.FactoryConfig{
		ConnectionString: mongoURI,
		Database:         cfg.MongoDB.Database,
		Collection:       cfg.MongoDB.Collection,
		MetadataFields:   cfg.Viewer.MetadataFields,
		ApplicationName:  cfg.Viewer.ApplicationName,
		PoolOptions: session.PoolOptions{
			MaxPoolSize:            cfg.MongoDB.MaxPoolSize,
			MinPoolSize:            cfg.MongoDB.MinPoolSize,
			MaxConnIdleTime:        cfg.MongoDB.MaxIdleTimeDuration(),
			ServerSelectionTimeout: cfg.MongoDB.ServerSelectionTimeoutDuration(),
			ConnectTimeout:         cfg.MongoDB.ConnectTimeoutDuration(),
			Timeout:                cfg.MongoDB.TimeoutDuration(),
			AppName:                cfg.Viewer.ApplicationName,
		},
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer func() {
		if err := factory.Close(context.Background()); err != nil {
			log.Error("Session factory close error", zap.Error(err))
		}
	}()

	// Repository on the shared client: the validator reads per-session
	// viewer passwords through it.
	repo, err := session.NewRepository(ctx, session.RepositoryConfig{
		Client:     factory.Client(),
		Database:   cfg.MongoDB.Database,
		Collection: cfg.MongoDB.Collection,
		Logger:     log,
	})
	if err != nil {
		log.Fatal("Failed to open session repository", zap.Error(err))
	}

	// 6. Build the viewer query engine and access control
	collection := factory.Client().Database(cfg.MongoDB.Database).Collection(cfg.MongoDB.Collection)
	engine := query.NewEngine(collection, factory.ConnectionStats, query.Config{
		DefaultPageSize: cfg.Viewer.DefaultPageSize,
		MaxPageSize:     cfg.Viewer.MaxPageSize,
		EnumFields:      cfg.Viewer.EnumFieldList(),
		EnumMaxValues:   cfg.Viewer.EnumMaxValues,
	}, log)
	validator := auth.NewValidator(cfg.Viewer.BackendPassword, repo, log)
	handler := api.NewHandler(engine, validator, log)

	// 7. Start the push hub and bridge session events to it
	hub := push.NewHub(log)
	go hub.Run(ctx)
	pushHandler := push.NewHandler(hub, log)
	bridgeSessionEvents(providedBus.Bus, hub, log)

	// ============================================
	// HTTP SERVER
	// ============================================
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(httpmw.RequestLogger(log, "viewer"))
	router.Use(httpmw.OtelTracing("sessiontrail-viewer"))

	// The WebSocket endpoint registers before SetupRoutes so the password
	// middleware does not apply to it; browsers cannot set custom headers
	// on WebSocket upgrades.
	router.GET("/ws", pushHandler.HandleConnection)

	api.SetupRoutes(ctx, router, handler, validator, api.RouterConfig{
		RateLimitPerMinute: cfg.Viewer.RateLimitPerMinute,
		RateLimitBurst:     cfg.Viewer.RateLimitBurst,
	}, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Viewer API listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("health", "/health"),
		zap.String("http", "/api/v1"),
		zap.String("websocket", "/ws"),
	)

	// ============================================
	// GRACEFUL SHUTDOWN
	// ============================================
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down sessiontrail viewer...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracing.Shutdown(shutdownCtx); err != nil {
		log.Error("Tracing shutdown error", zap.Error(err))
	}

	log.Info("sessiontrail viewer stopped")
}

// bridgeSessionEvents forwards session write events from the bus to every
// connected viewer, so open session pages refresh without polling.
func bridgeSessionEvents(eventBus bus.EventBus, hub *push.Hub, log *logger.Logger) {
	subjects := []string{
		events.BuildMetadataUpdatedWildcardSubject(),
		events.BuildMetadataDeletedWildcardSubject(),
		events.BuildFeedbackAddedWildcardSubject(),
	}
	for _, subject := range subjects {
		if _, err := eventBus.Subscribe(subject, func(ctx context.Context, event *bus.Event) error {
			return hub.Broadcast(event)
		}); err != nil {
			log.Error("Failed to subscribe to session events",
				zap.String("subject", subject), zap.Error(err))
		}
	}
}
