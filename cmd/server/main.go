// Inkwell - writing practice server
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

	"github.com/ashureev/inkwell/internal/api"
	"github.com/ashureev/inkwell/internal/config"
	"github.com/ashureev/inkwell/internal/grading"
	"github.com/ashureev/inkwell/internal/identity"
	"github.com/ashureev/inkwell/internal/live"
	"github.com/ashureev/inkwell/internal/metrics"
	"github.com/ashureev/inkwell/internal/middleware"
	"github.com/ashureev/inkwell/internal/prompt"
	"github.com/ashureev/inkwell/internal/session"
	"github.com/ashureev/inkwell/internal/store"
	"github.com/ashureev/inkwell/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "grader", cfg.Grader.Backend)

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
	repo.SetRetry(cfg.Retry.DatabaseMaxRetries, cfg.Retry.DatabaseRetryBaseDelay)

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	if cfg.PromptsFile != "" {
		if _, err := prompt.LoadCatalog(context.Background(), cfg.PromptsFile, repo, logger); err != nil {
			slog.Error("Failed to load prompt catalog", "error", err, "path", cfg.PromptsFile)
			os.Exit(1)
		}
	}

	budgets, err := grading.LoadBudgets(cfg.BudgetsFile, cfg.Grader.PerToken)
	if err != nil {
		slog.Error("Failed to load token budgets", "error", err)
		os.Exit(1)
	}

	var backend grading.Grader
	switch cfg.Grader.Backend {
	case "grpc":
		remote, err := grading.NewRemoteGrader(grading.DefaultRemoteGraderConfig(cfg.Grader.Addr), logger)
		if err != nil {
			slog.Error("Failed to connect to grading service", "error", err)
			os.Exit(1)
		}
		defer remote.Close()
		backend = remote
	default:
		completer := grading.NewOpenAICompleter(grading.OpenAIConfig{
			APIKey:      cfg.Grader.APIKey,
			BaseURL:     cfg.Grader.BaseURL,
			Model:       cfg.Grader.Model,
			Temperature: cfg.Grader.Temperature,
		}, logger)
		backend = grading.NewPipeline(completer, grading.DefaultLayers(), logger)
	}
	grader := grading.NewThrottled(backend, cfg.Grader.RequestsPerMinute)

	// Initialize services.
	hub := live.NewHub(logger)
	sessions := session.NewManager(session.Dependencies{
		Provider: prompt.NewService(repo, prompt.RankedPolicy{
			DailyLimit:  cfg.Ranked.DailyLimit,
			MinPractice: cfg.Ranked.MinPractice,
		}, logger),
		Grader:         grader,
		History:        repo,
		Budgets:        budgets,
		MaxRevisions:   cfg.MaxRevisions,
		Notifier:       hub,
		Logger:         logger,
		PersistTimeout: cfg.Timeout.Persist,
	})
	submitLimiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, sessions, grader, budgets, logger)
	baseHandler.SetHealthTimeout(cfg.Timeout.HealthCheck)
	sessionHandler := api.NewSessionHandler(baseHandler, submitLimiter.Limit)
	wsHandler := live.NewHandler(hub, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	// Public routes.
	baseHandler.RegisterHealth(r)
	r.Handle("/metrics", metrics.Handler())

	// Everything else carries an anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		baseHandler.RegisterRoutes(r)
		sessionHandler.RegisterRoutes(r)
		r.Get("/ws/session", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Submit blocks for a whole grading call and websockets are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // 0 = no timeout
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start background workers.
	session.StartTTLWorker(ctx, sessions, repo, cfg.SessionTTL)
	slog.Info("TTL worker started", "session_ttl", cfg.SessionTTL)
	go submitLimiter.Run(ctx)

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
	}
	sessions.Shutdown(shutdownCtx)

	slog.Info("Server stopped successfully")
}

// allowedOrigins lists CORS origins: the configured frontend, or any origin
// in development.
func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() || cfg.FrontendURL == "" {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}
