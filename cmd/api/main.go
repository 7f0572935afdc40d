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

	"github.com/ewhitley/gatehouse/internal/auth"
	"github.com/ewhitley/gatehouse/internal/background"
	"github.com/ewhitley/gatehouse/internal/config"
	"github.com/ewhitley/gatehouse/internal/database"
	"github.com/ewhitley/gatehouse/internal/handlers"
	middlewareCustom "github.com/ewhitley/gatehouse/internal/middleware"
	"github.com/ewhitley/gatehouse/internal/models"
	"github.com/ewhitley/gatehouse/internal/repositories"
	"github.com/ewhitley/gatehouse/internal/routes"
	"github.com/ewhitley/gatehouse/internal/services"
	pkgauth "github.com/ewhitley/gatehouse/pkg/auth"
	pkghttp "github.com/ewhitley/gatehouse/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.Migrate(); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	sessionRepo := repositories.NewSessionRepository(db)
	attemptRepo := repositories.NewAttemptRepository(db)
	banRepo := repositories.NewBanRepository(db)
	inviteRepo := repositories.NewInviteRepository(db)
	eventLogRepo := repositories.NewEventLogRepository(db)

	// Initialize services
	sessionService := services.NewSessionService(sessionRepo, services.SessionConfig{
		CSRFTimeout:       cfg.Security.CSRFTokenTimeout,
		InactivityTimeout: cfg.Security.SessionInactivityTimeout,
	}, logger)

	rateLimitService := services.NewRateLimitService(attemptRepo, banRepo, services.RateLimitConfig{
		MaxAttempts:     cfg.Security.RateLimitAttempts,
		LockoutWindow:   cfg.Security.LockoutWindow,
		BaseBanDuration: cfg.Security.BaseBanDuration,
		MaxBanDuration:  cfg.Security.MaxBanDuration,
		BanGracePeriod:  cfg.Security.BanGracePeriod,
	}, logger)

	inviteService := services.NewInviteService(inviteRepo, services.InviteConfig{
		DefaultExpiration: cfg.Security.InviteCodeExpiration,
		DefaultMaxUses:    cfg.Security.InviteCodeMaxUses,
	}, logger)

	auditService := services.NewAuditService(eventLogRepo, logger)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:   100,
		RandomDelayMs: 100,
	})

	authService := services.NewAuthService(
		sessionService,
		rateLimitService,
		inviteService,
		auditService,
		userRepo,
		inviteRepo,
		db,
		timingDelay,
		services.AuthConfig{RestrictedBanDuration: cfg.Security.RestrictedBanDuration},
		logger,
	)

	// Initialize cleanup manager
	cleanupManager := background.NewCleanupManager(
		rateLimitService,
		sessionService,
		auditService,
		logger,
		cfg.Security.CleanupInterval,
		cfg.Security.LogRetention,
	)

	// Cookie and client-IP configuration
	cookieConfig := auth.CookieConfig{
		Secure:   cfg.Server.Env == "production",
		SameSite: "strict",
	}
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, sessionService, cookieConfig, ipConfig)
	inviteHandler := handlers.NewInviteHandler(inviteService, auditService, ipConfig)
	auditHandler := handlers.NewAuditHandler(auditService)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, db, userRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(middlewareCustom.SessionLoader(sessionService, cookieConfig, logger))

	// Register routes
	routes.RegisterRoutes(router, authHandler, inviteHandler, auditHandler)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy","database":"up"}`))
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// ensureAdminUser creates the first admin user if ADMIN_USERNAME and
// ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, db *database.DB, userRepo *repositories.UserRepository, logger *slog.Logger) error {
	adminUsername := os.Getenv("ADMIN_USERNAME")
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminUsername == "" || adminPassword == "" {
		logger.Info("no ADMIN_USERNAME or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	// Check if admin already exists
	_, err := userRepo.GetByUsername(ctx, adminUsername)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	// Hash password
	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	// Create admin user
	admin := &models.User{
		Username:     adminUsername,
		Email:        os.Getenv("ADMIN_EMAIL"),
		PasswordHash: hashedPassword,
		Role:         models.RoleAdmin,
	}

	err = db.WithTransaction(ctx, func(tx pgx.Tx) error {
		_, err := userRepo.CreateTx(ctx, tx, admin)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
