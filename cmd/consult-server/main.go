package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/heydoc/consult/internal/config"
	"github.com/heydoc/consult/internal/domain/cases"
	"github.com/heydoc/consult/internal/domain/doctors"
	"github.com/heydoc/consult/internal/domain/metrics"
	"github.com/heydoc/consult/internal/domain/payouts"
	"github.com/heydoc/consult/internal/platform/auth"
	"github.com/heydoc/consult/internal/platform/db"
	"github.com/heydoc/consult/internal/platform/events"
	"github.com/heydoc/consult/internal/platform/middleware"
	"github.com/heydoc/consult/internal/platform/payments"
	"github.com/heydoc/consult/internal/platform/ws"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "consult-server",
		Short: "Consultation dispatch API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(payoutsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
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

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			migrator := db.NewMigrator(pool, dir)
			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

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

			migrator := db.NewMigrator(pool, dir)
			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
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
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

// payoutsCmd runs the weekly batch once and exits, intended for a cron or
// scheduled job runner.
func payoutsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payouts",
		Short: "Manage doctor payouts",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the weekly payout batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()

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

			gateway := payments.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey, logger)
			doctorSvc := doctors.NewService(doctors.NewRepo(pool), logger)
			coordinator := payouts.NewCoordinator(
				payouts.NewRepo(pool), doctorSvc, gateway, nil, payoutConfig(cfg), logger)

			completed, err := coordinator.RunWeekly(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Completed %d payout(s).\n", completed)
			return nil
		},
	}
	cmd.AddCommand(runCmd)

	return cmd
}

func newLogger() zerolog.Logger {
	if os.Getenv("ENV") == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func payoutConfig(cfg *config.Config) payouts.Config {
	return payouts.Config{
		WeeklyMinCents:  cfg.WeeklyPayoutMin,
		InstantMinCents: cfg.InstantPayoutMin,
		InstantFeeCents: cfg.InstantPayoutFee,
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	// Notification fan-out: WebSocket push to connected clients plus signed
	// webhook deliveries to registered endpoints.
	bus := events.NewBus(logger)
	hub := ws.NewHub(logger)
	bus.Subscribe(hub)
	dispatcher := events.NewWebhookDispatcher(logger)
	bus.Subscribe(dispatcher)

	// External collaborators.
	gateway := payments.NewClient(cfg.PaymentBaseURL, cfg.PaymentAPIKey, logger)

	// Domain services.
	doctorSvc := doctors.NewService(doctors.NewRepo(pool), logger)
	engine := cases.NewEngine(cases.NewRepo(pool), doctorSvc, gateway, bus, cfg.OfferWindow, logger)
	coordinator := payouts.NewCoordinator(
		payouts.NewRepo(pool), doctorSvc, gateway, bus, payoutConfig(cfg), logger)
	aggregator := metrics.NewAggregator(metrics.NewRepo(pool))

	// Routes.
	e.GET("/health", db.HealthHandler(pool))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))

	cases.NewHandler(engine).RegisterRoutes(apiV1)
	doctors.NewHandler(doctorSvc).RegisterRoutes(apiV1)
	payouts.NewHandler(coordinator).RegisterRoutes(apiV1)
	metrics.NewHandler(aggregator).RegisterRoutes(apiV1)
	events.NewWebhookHandler(dispatcher).RegisterRoutes(apiV1)
	ws.NewHandler(hub).RegisterRoutes(e.Group(""))

	// Offer timers survive restarts through the case table: re-arm live
	// offers, expire overdue ones, then keep a periodic sweep running.
	// Completed cases whose capture never landed are retried the same way.
	if err := engine.RecoverTimers(ctx); err != nil {
		logger.Error().Err(err).Msg("offer timer recovery failed")
	}
	if err := engine.ReconcileCaptures(ctx); err != nil {
		logger.Error().Err(err).Msg("capture reconciliation failed")
	}
	sweepCtx, sweepCancel := context.WithCancel(ctx)
	defer sweepCancel()
	go engine.RunSweeper(sweepCtx, cfg.SweepInterval)

	// Serve until interrupted.
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("server listening")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server stopped")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down")
	sweepCancel()
	engine.Timer().Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
