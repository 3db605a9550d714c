// Chatdesk - conversational order desk server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ashureev/chatdesk/internal/api"
	"github.com/ashureev/chatdesk/internal/bot"
	"github.com/ashureev/chatdesk/internal/config"
	"github.com/ashureev/chatdesk/internal/dispatch"
	"github.com/ashureev/chatdesk/internal/docstore"
	"github.com/ashureev/chatdesk/internal/extract"
	"github.com/ashureev/chatdesk/internal/identity"
	"github.com/ashureev/chatdesk/internal/intent"
	"github.com/ashureev/chatdesk/internal/middleware"
	"github.com/ashureev/chatdesk/internal/recent"
	"github.com/ashureev/chatdesk/internal/resolve"
	"github.com/ashureev/chatdesk/internal/session"
	"github.com/ashureev/chatdesk/internal/shared"
	"github.com/ashureev/chatdesk/internal/store"
	"github.com/ashureev/chatdesk/internal/transport"
)

const healthProbeInterval = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "docstore", cfg.Docstore.Mode)

	// The local database always backs the recent-entities list; it is also
	// the document store unless a remote one is configured.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	var docs docstore.Client = repo
	if cfg.Docstore.Mode == config.DocstoreHTTP {
		remote, err := docstore.NewHTTPClient(docstore.HTTPConfig{
			BaseURL: cfg.Docstore.URL,
			Token:   cfg.Docstore.Token,
			Timeout: cfg.Docstore.Timeout,
			RPS:     cfg.Docstore.RPS,
			Retry: shared.RetryPolicy{
				MaxAttempts: cfg.Docstore.MaxAttempts,
				BaseDelay:   cfg.Docstore.BaseDelay,
			},
			Logger: logger,
		})
		if err != nil {
			slog.Error("Failed to initialize document store client", "error", err)
			os.Exit(1)
		}
		defer func() { _ = remote.Close() }()
		if err := remote.Ping(context.Background()); err != nil {
			slog.Warn("Document store not reachable yet", "url", cfg.Docstore.URL, "error", err)
		}
		docs = remote
	}

	rules, err := loadRules(cfg.IntentRulesPath)
	if err != nil {
		slog.Error("Failed to load intent rules", "path", cfg.IntentRulesPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Intent rules loaded", "rules", len(rules.Rules()))

	convLog, err := bot.NewConversationLogger(bot.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() { _ = convLog.Close() }()

	// Initialize services.
	sessions := session.NewStore(cfg.SessionTTL)
	recents := recent.New(recent.DefaultCapacity, repo, logger)
	thresholds := resolve.DefaultThresholds()
	thresholds.RecentFuzzy = cfg.RecentFuzzyThreshold
	thresholds.RemoteFuzzy = cfg.RemoteFuzzyThreshold
	extractor := extract.Default()
	classifier := intent.NewClassifier(rules)

	hub := transport.NewHub(transport.NewOfflineQueue(transport.DefaultQueueSize, transport.DefaultQueueAge), logger)
	sender := bot.TranscriptSender(hub, convLog)

	auth := identity.NewAuthorizer(cfg.AllowedUserIDs)
	if auth.Open() {
		slog.Warn("ALLOWED_USER_IDS is empty, every user may use the bot")
	}

	dispatcher := dispatch.New(dispatch.Deps{
		Sessions:   sessions,
		Recent:     recents,
		Classifier: classifier,
		Extractor:  extractor,
		Resolver:   resolve.New(recents, docs, resolve.WithThresholds(thresholds), resolve.WithLogger(logger)),
		Docs:       docs,
		Sender:     sender,
		Auth:       auth,
		Logger:     logger,
	})

	limiter := bot.NewRateLimiter(cfg.RateLimitPerMinute, 0)
	service := bot.NewService(dispatcher, bot.Options{
		Limiter: limiter,
		ConvLog: convLog,
		Sender:  sender,
		Logger:  logger,
	})

	// Initialize handlers.
	apiHandler := api.NewHandler(service.WithChannel("webhook"), classifier, extractor, docs, logger)
	wsHandler := transport.NewWebSocketHandler(service.WithChannel("websocket"), hub, cfg.AllowedOrigins, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/healthz"))
	r.Use(middleware.Metrics)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Route("/api", apiHandler.RegisterRoutes)
	r.Handle("/metrics", promhttp.Handler())

	// WebSocket endpoint.
	r.With(identity.Middleware).Get("/ws", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // websocket connections are long-lived
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	session.StartSweeper(ctx, sessions, cfg.SessionSweepInterval, nil)
	go limiter.Run(ctx, 10*time.Minute)

	grpcSrv, healthSrv, err := startHealthServer(cfg.GRPCHealthPort)
	if err != nil {
		slog.Error("Failed to start gRPC health server", "error", err)
		os.Exit(1)
	}
	go watchHealth(ctx, docs, healthSrv)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")
	healthSrv.Shutdown()
	grpcSrv.GracefulStop()
	hub.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

func loadRules(path string) (*intent.RuleSet, error) {
	if path == "" {
		return intent.DefaultRules()
	}
	return intent.LoadRulesFile(path)
}

func startHealthServer(port string) (*grpc.Server, *health.Server, error) {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return nil, nil, err
	}
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	go func() {
		slog.Info("gRPC health server listening", "addr", lis.Addr().String())
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("gRPC health server failed", "error", err)
		}
	}()
	return grpcSrv, healthSrv, nil
}

// watchHealth mirrors document-store reachability into the gRPC health status.
func watchHealth(ctx context.Context, docs docstore.Client, hs *health.Server) {
	probe := func() {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		status := healthpb.HealthCheckResponse_SERVING
		if err := docs.Ping(pctx); err != nil {
			slog.Warn("Document store health probe failed", "error", err)
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		hs.SetServingStatus("", status)
	}
	probe()

	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			probe()
		case <-ctx.Done():
			return
		}
	}
}
