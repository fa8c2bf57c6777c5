package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/carelink/portal/internal/config"
	"github.com/carelink/portal/internal/domain/appointment"
	"github.com/carelink/portal/internal/domain/conversation"
	"github.com/carelink/portal/internal/domain/directory"
	"github.com/carelink/portal/internal/domain/session"
	"github.com/carelink/portal/internal/platform/auth"
	"github.com/carelink/portal/internal/platform/changefeed"
	"github.com/carelink/portal/internal/platform/db"
	"github.com/carelink/portal/internal/platform/middleware"
	"github.com/carelink/portal/internal/platform/realtime"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "portal-server",
		Short: "Patient/doctor messaging and appointment API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the portal API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := context.Background()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Rollback last migration (not supported)",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("WARNING: migrate down is destructive and not supported by the built-in runner.")
			return nil
		},
	})

	return cmd
}

// resolveRateLimit falls back to defaults when the configured rate is unusable.
func resolveRateLimit(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		return middleware.DefaultRateLimitConfig()
	}
	return rl
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Changefeed over LISTEN/NOTIFY
	feed := changefeed.NewPostgresFeed(pool, logger,
		changefeed.WithMaxReconnects(cfg.FeedReconnects),
		changefeed.WithDegradedFunc(func(err error) {
			logger.Error().Err(err).Msg("live message delivery degraded; restart required")
		}),
	)
	if err := feed.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start changefeed")
	}
	defer feed.Close()

	// Domain services
	msgRepo := conversation.NewRepoPG(pool)
	store := conversation.NewStore(msgRepo, logger)
	tracker := conversation.NewReadTracker(msgRepo, store, logger)

	apptRepo := appointment.NewRepoPG(pool)
	apptService := appointment.NewService(apptRepo, appointment.WithTxRunner(
		func(ctx context.Context, fn func(context.Context) error) error {
			return db.WithTx(ctx, pool, fn)
		},
	))

	profileRepo := directory.NewRepoPG(pool)
	dirService := directory.NewService(profileRepo, apptService, store, logger)

	coordinator := session.NewCoordinator(feed, store, tracker, logger)
	defer coordinator.Shutdown()

	// WebSocket fan-out: live messages reach browser clients watching the
	// conversation.
	hub := realtime.NewHub(logger)
	coordinator.SetNotifier(func(_ uuid.UUID, key conversation.Key, m conversation.Message) {
		data, err := json.Marshal(m)
		if err != nil {
			logger.Error().Err(err).Msg("marshal live message failed")
			return
		}
		hub.Broadcast(realtime.Event{
			Type:         "message",
			Conversation: key.String(),
			Timestamp:    time.Now(),
			Data:         data,
		})
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() && cfg.SessionSecret == "" {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.SessionMiddleware(auth.SessionConfig{Secret: []byte(cfg.SessionSecret)}))
	}

	// Health check
	e.GET("/health", db.HealthHandler(pool))

	// API routes
	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(resolveRateLimit(cfg)))

	appointment.NewHandler(apptService).RegisterRoutes(apiV1)
	conversation.NewHandler(store, tracker).RegisterRoutes(apiV1)
	directory.NewHandler(dirService).RegisterRoutes(apiV1)
	session.NewHandler(coordinator).RegisterRoutes(apiV1)
	realtime.NewHandler(hub).RegisterRoutes(apiV1)

	// Start server
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server starting")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
		return err
	}
	return nil
}
