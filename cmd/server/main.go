// Stylist - Visual Shopping Assistant Server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/shoplens/stylist/internal/api"
	"github.com/shoplens/stylist/internal/config"
	"github.com/shoplens/stylist/internal/conversation"
	"github.com/shoplens/stylist/internal/identity"
	"github.com/shoplens/stylist/internal/middleware"
	"github.com/shoplens/stylist/internal/orchestrator"
	"github.com/shoplens/stylist/internal/remote"
	"github.com/shoplens/stylist/internal/store"
	"github.com/shoplens/stylist/internal/ws"
)

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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

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

	agentClient := remote.NewHTTPClient(cfg.AgentBaseURL, logger)
	defer agentClient.Close()

	// Agent reachability is advisory at startup; the first turn surfaces a
	// real error to the user if the agent stays down.
	if err := agentClient.Health(context.Background()); err != nil {
		slog.Warn("Agent service unreachable at startup", "error", err, "base_url", cfg.AgentBaseURL)
	} else {
		slog.Info("Agent service connected", "base_url", cfg.AgentBaseURL)
	}

	mgr := conversation.NewManager(agentClient, repo, orchestrator.Options{
		PollInterval:    cfg.Poll.Interval,
		PollMaxAttempts: cfg.Poll.MaxAttempts,
		Logger:          logger,
	}, cfg.Captions.CycleInterval)
	defer mgr.CloseAll()

	// Initialize handlers.
	handler := api.NewHandler(repo, mgr, agentClient, cfg)
	chatHandler := ws.NewChatHandler(repo, mgr, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	r.Get("/health", handler.HandleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/assistant", func(r chi.Router) {
			r.Post("/send", handler.HandleSend)
			r.Post("/reset", handler.HandleReset)
			r.Post("/analyze", handler.HandleAnalyze)
			r.Get("/state", handler.HandleState)
			r.Get("/stream", handler.HandleStateStream)
		})
		r.Route("/fittings", func(r chi.Router) {
			r.Post("/detail", handler.HandleFittingDetail)
			r.Post("/feed", handler.HandleFittingFeed)
			r.Post("/sheet", handler.HandleFittingSheet)
		})
	})

	// WebSocket endpoint.
	r.Get("/ws/chat", chatHandler.ServeHTTP)

	// Create server.
	// Note: SSE connections require long timeouts (no WriteTimeout)
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for SSE support
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	// Start conversation reaper.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conversation.StartReaper(ctx, repo, mgr, cfg.ConversationTTL)

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

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
