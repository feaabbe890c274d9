package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rxgate/rxgate/internal/config"
	"github.com/rxgate/rxgate/internal/domain/catalog"
	"github.com/rxgate/rxgate/internal/domain/fulfillment"
	"github.com/rxgate/rxgate/internal/domain/order"
	"github.com/rxgate/rxgate/internal/domain/prescription"
	"github.com/rxgate/rxgate/internal/domain/provider"
	"github.com/rxgate/rxgate/internal/platform/auth"
	"github.com/rxgate/rxgate/internal/platform/blobstore"
	"github.com/rxgate/rxgate/internal/platform/db"
	"github.com/rxgate/rxgate/internal/platform/middleware"
	"github.com/rxgate/rxgate/internal/platform/notification"
	"github.com/rxgate/rxgate/internal/platform/realtime"
	"github.com/rxgate/rxgate/internal/platform/telemetry"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "rxgate-server",
		Short: "Prescription-gated fulfillment API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(expireCmd())

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

	// migrate up
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

	// migrate status
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
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	// migrate down
	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
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
			version, err := migrator.Down(ctx)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if version == 0 {
				fmt.Println("No applied migrations to revert.")
				return nil
			}

			fmt.Printf("Reverted migration %d.\n", version)
			return nil
		},
	}
	downCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(downCmd)

	return cmd
}

func expireCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Expire stale pending prescriptions and release their reservations",
		RunE: func(cmd *cobra.Command, args []string) error {
			olderThan, _ := cmd.Flags().GetDuration("older-than")
			return runExpire(olderThan)
		},
	}
	cmd.Flags().Duration("older-than", 0,
		"Expire pending prescriptions older than this (default: PRESCRIPTION_TTL_HOURS)")
	return cmd
}

func newLogger() zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return logger
}

// resolveExpiryWindow picks the sweep cutoff: an explicit --older-than wins,
// otherwise the configured prescription TTL applies.
func resolveExpiryWindow(flagValue time.Duration, ttlHours int) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	return time.Duration(ttlHours) * time.Hour
}

// services bundles the domain wiring shared by the API server and the expire
// sweep. Both build the same repo/service graph; only the HTTP layer and the
// realtime hub differ.
type services struct {
	catalog       *catalog.Service
	providers     *provider.Service
	orders        *order.Service
	prescriptions *prescription.Service
	notifications *notification.Manager
	coordinator   *fulfillment.Coordinator
}

func wireServices(pool *pgxpool.Pool, cfg *config.Config, events realtime.EventPublisher, metrics *telemetry.Provider, logger zerolog.Logger) *services {
	runner := db.NewPoolRunner(pool)

	catalogSvc := catalog.NewService(catalog.NewCatalogItemRepoPG(pool))
	providerSvc := provider.NewService(provider.NewProviderRepoPG(pool), provider.NewOfferRepoPG(pool), catalogSvc)
	orderSvc := order.NewService(order.NewOrderRepoPG(pool), providerSvc, catalogSvc, runner)
	rxSvc := prescription.NewService(prescription.NewPrescriptionRepoPG(pool), orderSvc, catalogSvc, runner, cfg.ContactCountryCode)

	// Log-backed senders; deployments swap in real email/SMS gateways here.
	manager := notification.NewManager(
		notification.NewLogEmailSender(logger),
		notification.NewLogSMSSender(logger),
		notification.NewTemplateEngine(),
	)
	var notifier fulfillment.Notifier
	if cfg.NotificationsEnabled {
		notifier = notification.NewDispatcher(manager, logger)
	} else {
		logger.Warn().Msg("patient notifications disabled (NOTIFICATIONS_ENABLED=false)")
	}

	coordinator := fulfillment.NewCoordinator(
		rxSvc, orderSvc, providerSvc,
		notifier, events, runner,
		fulfillment.RejectPolicy(cfg.RejectPolicy), logger,
	)
	if metrics != nil {
		manager.Record = metrics.CountNotification
		coordinator.Metrics = metrics
	}

	return &services{
		catalog:       catalogSvc,
		providers:     providerSvc,
		orders:        orderSvc,
		prescriptions: rxSvc,
		notifications: manager,
		coordinator:   coordinator,
	}
}

// refreshGauges samples pool usage and the pending review backlog for the
// metrics endpoint until ctx is cancelled.
func refreshGauges(ctx context.Context, rec *telemetry.HealthRecorder, pool *pgxpool.Pool, rx *prescription.Service) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stat := pool.Stat()
			rec.SetDBPoolActive(int64(stat.AcquiredConns()))
			rec.SetDBPoolIdle(int64(stat.IdleConns()))

			qctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if n, err := rx.CountPending(qctx); err == nil {
				rec.SetPendingPrescriptions(int64(n))
			}
			cancel()
		}
	}
}

func runServer() error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	tel := telemetry.NewProvider(telemetry.Config{
		ServiceName:    "rxgate-server",
		ServiceVersion: version,
		Environment:    cfg.Env,
		MetricsEnabled: telemetry.BoolPtr(cfg.MetricsEnabled),
		TracingEnabled: telemetry.BoolPtr(cfg.TracingEnabled),
		SampleRate:     cfg.TraceSampleRate,
	})

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(tel.TracingMiddleware())
	e.Use(tel.MetricsMiddleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	e.Use(middleware.SanitizeWithLogger(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.UploadBodyLimit))

	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	e.Use(middleware.RequestTimeout(requestTimeout))

	// Auth middleware. Health checks, metrics and the websocket upgrade stay
	// public.
	switch cfg.ResolvedAuthMode() {
	case "jwt":
		jwtCfg := auth.JWTConfig{
			Issuer:   cfg.AuthIssuer,
			Audience: cfg.AuthAudience,
			Skipper:  auth.AuthSkipper,
		}
		if cfg.JWTSecret != "" {
			jwtCfg.SigningKey = []byte(cfg.JWTSecret)
		}
		e.Use(auth.JWTMiddleware(jwtCfg))
	case "none":
		// An upstream gateway authenticates; requests that reach the
		// server are trusted with full access.
		logger.Warn().Msg("AUTH_MODE=none; trusting upstream gateway for authentication")
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	default:
		e.Use(auth.DevAuthMiddleware(auth.AuthSkipper))
	}

	// Audit middleware
	e.Use(middleware.Audit(logger))

	// Health checks and metrics
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))
	e.GET("/metrics", tel.PrometheusHandler())

	// Realtime hub. The websocket endpoint lives at the root so browser
	// clients can connect without an Authorization header.
	hub := realtime.NewHub(logger)
	realtime.NewHandler(hub).RegisterRoutes(e.Group(""))

	svcs := wireServices(pool, cfg, hub, tel, logger)

	gaugeCtx, stopGauges := context.WithCancel(context.Background())
	defer stopGauges()
	go refreshGauges(gaugeCtx, tel.Health(), pool, svcs.prescriptions)

	apiV1 := e.Group("/api/v1")

	rlCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rlCfg.RequestsPerSecond <= 0 || rlCfg.BurstSize <= 0 {
		rlCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rlCfg))

	// Availability is the one hot read shared across callers; everything
	// else on the API is caller-specific and only gets ETag revalidation.
	cacheTTL := cfg.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}
	cacheStore := middleware.NewInMemoryCacheStore()
	cacheCtx, stopCacheCleanup := context.WithCancel(context.Background())
	defer stopCacheCleanup()
	cacheStore.StartCleanup(cacheCtx, time.Minute)
	apiV1.Use(middleware.ETagMiddleware(middleware.DefaultCacheConfig()))
	apiV1.Use(middleware.ResponseCache(cacheStore, cacheTTL, "/api/v1/availability"))

	catalog.NewHandler(svcs.catalog).RegisterRoutes(apiV1)
	provider.NewHandler(svcs.providers).RegisterRoutes(apiV1)
	order.NewHandler(svcs.orders).RegisterRoutes(apiV1)
	prescription.NewHandler(svcs.prescriptions).RegisterRoutes(apiV1)
	fulfillment.NewHandler(svcs.coordinator).RegisterRoutes(apiV1)
	notification.NewHandler(svcs.notifications).RegisterRoutes(apiV1)
	blobstore.NewBlobHandler(blobstore.NewInMemoryBlobStore()).RegisterRoutes(apiV1)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("telemetry shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func runExpire(olderThan time.Duration) error {
	logger := newLogger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	// No hub or metrics: the sweep runs outside the server process.
	svcs := wireServices(pool, cfg, nil, nil, logger)

	window := resolveExpiryWindow(olderThan, cfg.PrescriptionTTLHours)
	res, err := svcs.coordinator.ExpireStale(ctx, window)
	if err != nil {
		return fmt.Errorf("expire sweep failed: %w", err)
	}

	fmt.Printf("Scanned %d stale pending prescription(s): %d expired, %d skipped, %d failed.\n",
		res.Scanned, res.Expired, res.Skipped, res.Failed)
	for _, f := range res.NotificationFailures {
		fmt.Printf("  notification failed for order %s: %s\n", f.OrderID, f.Error)
	}
	return nil
}
