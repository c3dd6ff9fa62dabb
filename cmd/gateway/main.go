package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/nodepulse/presence-gateway/internal/config"
	"github.com/nodepulse/presence-gateway/internal/gateway"
	"github.com/nodepulse/presence-gateway/internal/health"
	"github.com/nodepulse/presence-gateway/internal/httputil"
	"github.com/nodepulse/presence-gateway/internal/postgres"
	"github.com/nodepulse/presence-gateway/internal/presence"
	"github.com/nodepulse/presence-gateway/internal/ratelimit"
	"github.com/nodepulse/presence-gateway/internal/registry"
	"github.com/nodepulse/presence-gateway/internal/telemetry"
	"github.com/nodepulse/presence-gateway/internal/valkey"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Presence/broadcast WebSocket gateway",
	Long:  `gateway accepts WebSocket connections, tracks who is online against an external presence store, and exposes an admin HTTP surface for health, connection listing, and broadcast injection.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build metadata",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("version=%s commit=%s built=%s\n", version, commit, date)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("gateway stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	if cfg.LogLevel != "" {
		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("parse log level: %w", err)
		}
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.ServerEnv).
		Msg("starting presence gateway")

	ctx := context.Background()

	db, err := postgres.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConn, cfg.DatabaseMinConn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	log.Info().Msg("postgres connected")

	if err := postgres.Migrate(cfg.DatabaseURL, log.Logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations complete")

	rdb, err := valkey.Connect(ctx, cfg.ValkeyURL, cfg.ValkeyDialTimeout)
	if err != nil {
		return fmt.Errorf("connect valkey: %w", err)
	}
	defer func() { _ = rdb.Close() }()
	log.Info().Msg("valkey connected")

	presenceStore := presence.NewPGStore(db, log.Logger)
	healthCache := health.NewCache(health.NewStore(db), cfg.ServerEnv, cfg.CommitHash)
	telemetryStore := telemetry.NewStore(rdb, cfg.WarpTelemetryEnabled)

	reg := registry.New()
	hub := gateway.NewHub(reg, presenceStore, telemetryStore, cfg.MaxConnections, log.Logger)
	adminLimiter := ratelimit.New(int64(cfg.RateLimitWindowMS), cfg.RateLimitMax)

	subCtx, subCancel := context.WithCancel(ctx)
	defer subCancel()
	go hub.RunHeartbeatLoop(subCtx, cfg.HeartbeatTickEvery(), cfg.OfflineAfter())
	go hub.RunVerificationLoop(subCtx, cfg.VerifyInterval())

	app := fiber.New(fiber.Config{
		AppName: "presence-gateway",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
				message = fe.Message
			} else {
				log.Error().Err(err).Str("method", c.Method()).Str("path", c.Path()).Msg("unhandled error")
			}
			return httputil.Fail(c, status, message)
		},
	})

	app.Use(requestid.New())
	if cfg.LogHealthRequests {
		app.Use(httputil.RequestLogger(log.Logger))
	} else {
		app.Use(httputil.RequestLogger(log.Logger, "/v1/health"))
	}
	app.Use(limiter.New(limiter.Config{
		Max:        cfg.RateLimitMax,
		Expiration: cfg.RateLimitWindow(),
	}))

	app.Get(cfg.WSPath, gateway.Upgrade(hub, log.Logger))
	gateway.RegisterAdminRoutes(app, hub, healthCache, presenceStore, adminLimiter, cfg.AdminKey, cfg.ServerEnv, version)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("shutting down")
		subCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Str("ws_path", cfg.WSPath).Msg("server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
