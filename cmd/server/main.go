// Resolve Já - municipal complaint intake server
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ThauanSilva03/Resolve-ja/internal/api"
	"github.com/ThauanSilva03/Resolve-ja/internal/classifier"
	"github.com/ThauanSilva03/Resolve-ja/internal/config"
	"github.com/ThauanSilva03/Resolve-ja/internal/dialogue"
	"github.com/ThauanSilva03/Resolve-ja/internal/dispatch"
	"github.com/ThauanSilva03/Resolve-ja/internal/identity"
	"github.com/ThauanSilva03/Resolve-ja/internal/middleware"
	"github.com/ThauanSilva03/Resolve-ja/internal/outbox"
	"github.com/ThauanSilva03/Resolve-ja/internal/session"
	"github.com/ThauanSilva03/Resolve-ja/internal/store"
	"github.com/ThauanSilva03/Resolve-ja/internal/transcript"
	"github.com/ThauanSilva03/Resolve-ja/internal/transport"
	"github.com/ThauanSilva03/Resolve-ja/internal/transport/bridge"
	"github.com/ThauanSilva03/Resolve-ja/internal/transport/webchat"
	"github.com/ThauanSilva03/Resolve-ja/web"
)

func main() {
	var envFile, logLevel string
	flagSet := pflag.NewFlagSet("resolveja-server", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "path to a .env file loaded before reading the environment")
	flagSet.StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides LOG_LEVEL")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", envFile)
	}
	if logLevel != "" {
		if err := os.Setenv("LOG_LEVEL", logLevel); err != nil {
			slog.Warn("Failed to apply --log-level", "error", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	lvl, _ := config.ParseLevel(cfg.LogLevel)
	level.Set(lvl)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "classifier", cfg.Classifier.Provider)

	// Initialize dependencies.
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

	catalog := classifier.DefaultCatalog()
	if cfg.Classifier.DepartmentsFile != "" {
		catalog, err = classifier.LoadCatalog(cfg.Classifier.DepartmentsFile)
		if err != nil {
			slog.Error("Failed to load department catalog", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Department catalog loaded", "departments", len(catalog.Codes()))

	var checks []api.Checker
	var dept classifier.Classifier
	switch cfg.Classifier.Provider {
	case config.ProviderGrpc:
		slog.Info("Connecting to classification service via gRPC", "address", cfg.Classifier.GrpcAddr)
		grpcClient, err := classifier.NewGrpc(classifier.GrpcConfig{Address: cfg.Classifier.GrpcAddr}, catalog, logger)
		if err != nil {
			slog.Error("Failed to connect to classification service", "error", err)
			os.Exit(1)
		}
		defer grpcClient.Close()
		dept = grpcClient
		checks = append(checks, api.Checker{Name: "classifier", Check: grpcClient.Health})
	default:
		openAI, err := classifier.NewOpenAI(classifier.OpenAIConfig{
			APIKey:     cfg.Classifier.OpenAIAPIKey,
			Model:      cfg.Classifier.OpenAIModel,
			MaxRetries: 2,
		}, catalog, logger)
		if err != nil {
			slog.Error("Failed to initialize OpenAI classifier", "error", err)
			os.Exit(1)
		}
		dept = openAI
	}
	dept = classifier.WithTimeout(dept, cfg.Classifier.Timeout)

	recorders := []dispatch.Recorder{repo}
	if cfg.Redis.URL != "" {
		pub, err := outbox.NewRedis(context.Background(), outbox.Config{
			URL:    cfg.Redis.URL,
			Stream: cfg.Redis.Stream,
		}, logger)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			if closeErr := pub.Close(); closeErr != nil {
				slog.Error("Failed to close Redis outbox", "error", closeErr)
			}
		}()
		recorders = append(recorders, pub)
		checks = append(checks, api.Checker{Name: "redis", Check: pub.Ping})
		slog.Info("Complaint outbox enabled", "stream", pub.Stream())
	}

	conversationLog, err := transcript.New(transcript.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := conversationLog.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize services.
	sessions := session.NewStore(cfg.SessionIdleTimeout, session.WithLogger(logger))
	defer sessions.Close()

	limiter := dispatch.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	defer limiter.Close()

	hub := webchat.NewHub(logger)
	gateway := bridge.New(bridge.Config{
		SendURL:       cfg.Bridge.SendURL,
		Secret:        cfg.Bridge.Secret,
		MediaHosts:    cfg.Bridge.MediaHosts,
		MaxMediaBytes: int64(cfg.MediaMaxBytes),
	}, nil, logger)

	mux := transport.NewMux()
	mux.Register(transport.ChannelWeb, hub)
	mux.Register(transport.ChannelBridge, gateway)

	dispatcher := dispatch.New(dispatch.Deps{
		Sessions:   sessions,
		Machine:    dialogue.NewMachine(dept, logger),
		Sender:     mux,
		Recorders:  recorders,
		Limiter:    limiter,
		Transcript: conversationLog,
		Logger:     logger,
	})
	gateway.SetHandler(dispatcher)

	// Initialize handlers.
	apiHandler := api.NewHandler(repo, sessions, cfg.OperatorToken, logger, checks...)
	wsHandler := webchat.NewHandler(hub, dispatcher, webchat.Config{
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDev:          cfg.IsDevelopment(),
		MaxMediaBytes:  cfg.MediaMaxBytes,
	}, logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// The gateway authenticates with its shared secret, not a cookie.
	if cfg.Bridge.SendURL != "" {
		if cfg.Bridge.Secret == "" {
			slog.Warn("Bridge endpoint running without BRIDGE_SECRET (development only)")
		}
		r.Post("/bridge/messages", gateway.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))

		apiHandler.RegisterRoutes(r)

		// WebSocket endpoint.
		r.Get("/ws/chat", wsHandler.ServeHTTP)

		// Serve embedded chat page.
		r.Handle("/*", web.Handler())
	})

	// WebSocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	total, active := sessions.Stats()
	slog.Info("Server stopped successfully", "sessions_dropped", total, "sessions_active", active)
}
