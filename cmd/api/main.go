package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/guardline/server/internal/auth"
	"github.com/guardline/server/internal/checkin"
	"github.com/guardline/server/internal/config"
	"github.com/guardline/server/internal/db"
	httphandler "github.com/guardline/server/internal/http"
	"github.com/guardline/server/internal/http/handlers"
	"github.com/guardline/server/internal/notify"
	"github.com/guardline/server/internal/phone"
	"github.com/guardline/server/internal/repo"

	_ "github.com/lib/pq"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.Open(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := runMigrations(database, logger); err != nil {
		logger.Fatal("failed to run migrations", zap.Error(err))
	}

	// Repositories
	userRepo := repo.NewUserRepo(database)
	contactRepo := repo.NewContactRepo(database)
	eventRepo := repo.NewEventRepo(database)
	deliveryRepo := repo.NewDeliveryRepo(database)
	auditRepo := repo.NewAuditRepo(database)

	// Collaborators
	cipher, err := phone.NewAESCipher(cfg.PhoneCipherKey)
	if err != nil {
		logger.Fatal("failed to create phone cipher", zap.Error(err))
	}
	smsProvider := notify.NewSMSStub(logger)
	pushProvider := notify.NewPushStub(logger)
	jwtService := auth.NewJWTService(cfg.JWTSecret)

	// Check-in engine
	service := checkin.NewService(
		userRepo, contactRepo, eventRepo, deliveryRepo, auditRepo,
		smsProvider, pushProvider, cipher, logger,
		checkin.Options{
			SendTimeout:   cfg.SendTimeout,
			SMSMaxRetries: cfg.SMSMaxRetries,
		},
	)
	service.StartTicker(ctx, cfg.TickInterval)

	// Handlers and router
	checkinHandler := handlers.NewCheckinHandler(service)
	settingsHandler := handlers.NewSettingsHandler(userRepo, service)
	contactsHandler := handlers.NewContactsHandler(contactRepo, cipher)
	tickHandler := handlers.NewTickHandler(service, cfg.TickSecret)

	router := httphandler.NewRouter(
		checkinHandler, settingsHandler, contactsHandler, tickHandler,
		jwtService, userRepo,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server exited")
}

// initLogger builds the zap logger from config
func initLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.LogFormat == "console" || cfg.DevMode {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = level
	return zcfg.Build()
}

// runMigrations runs database migrations using goose
func runMigrations(database *sql.DB, logger *zap.Logger) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	// Resolve migration dir so it works from server/ or repo root
	migrationDir := "internal/db/migrations"
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		migrationDir = "server/internal/db/migrations"
	}
	if info, err := os.Stat(migrationDir); err != nil || !info.IsDir() {
		return fmt.Errorf("migrations directory not found (run from server/ or repo root)")
	}

	absDir, _ := filepath.Abs(migrationDir)
	logger.Info("running migrations", zap.String("dir", absDir))

	if err := goose.Up(database, migrationDir); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}
