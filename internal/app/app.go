package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/angostura/backend/internal/domain/order"
	"github.com/angostura/backend/internal/gateway"
	"github.com/angostura/backend/internal/gateway/webchat"
	"github.com/angostura/backend/internal/handler"
	"github.com/angostura/backend/internal/jobs"
	"github.com/angostura/backend/internal/notify"
	"github.com/angostura/backend/internal/storage/postgres"
	"github.com/angostura/backend/pkg/health"
	"github.com/angostura/backend/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	accountRepo := postgres.NewAccountRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	// Chat gateway session.
	transport := webchat.New(webchat.Config{
		URL:      cfg.Gateway.URL,
		DataDir:  cfg.Gateway.DataDir,
		Headless: cfg.Gateway.Headless,
	}, lg.Named("webchat"))
	session := gateway.NewSession(transport,
		gateway.WithLogger(lg.Named("gateway")),
		gateway.WithSendRate(rate.Limit(cfg.Gateway.SendRate), 3),
	)
	if cfg.Gateway.Enabled {
		if err := session.Start(ctx); err != nil {
			return errors.Wrap(err, "start gateway session")
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := session.Stop(stopCtx); err != nil {
				lg.Warn("Gateway session stop", zap.Error(err))
			}
		}()
	}

	// Notifications.
	dispatcher := notify.NewDispatcher(session,
		notify.WithLogger(lg.Named("notify")),
		notify.WithCountryPrefix(cfg.Notify.CountryPrefix),
	)
	notifier := notify.NewOrderNotifier(dispatcher, accountRepo, productRepo, lg.Named("notify"))
	defer notifier.Wait()

	// Domain services.
	orderService := order.NewService(orderRepo, productRepo, accountRepo, notifier)

	// Background jobs.
	jobManager := jobs.NewManager(lg.Named("jobs"))
	if err := jobs.RegisterCooldownSweep(jobManager, dispatcher); err != nil {
		return errors.Wrap(err, "register cooldown sweep")
	}
	if cfg.Gateway.Enabled {
		if err := jobs.RegisterGatewayWatchdog(jobManager, session); err != nil {
			return errors.Wrap(err, "register gateway watchdog")
		}
	}
	jobManager.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jobManager.Stop(stopCtx); err != nil {
			lg.Warn("Job manager stop", zap.Error(err))
		}
	}()

	// Health check service. The gateway session is deliberately absent here:
	// order flow continues while it is down, so a Failed session must not flip
	// the probes. Its state is visible on /api/gateway/status and in the
	// watchdog log.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	// HTTP routes.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	handler.New(orderService, session).Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				RPS:   cfg.RateLimit.RPS,
				Burst: cfg.RateLimit.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
