package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"raffle-pix-app/internal/config"
	"raffle-pix-app/internal/db"
	"raffle-pix-app/internal/gateway"
	"raffle-pix-app/internal/handlers"
	appmw "raffle-pix-app/internal/middleware"
	"raffle-pix-app/internal/router"
	"raffle-pix-app/internal/services"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "raffle service: %v\n", err)
		os.Exit(1)
	}
}

// run owns every resource of the process; returning from it, on error or on a
// signal, closes the store and flushes the logger.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting raffle service",
		zap.String("environment", cfg.Server.Env),
		zap.String("port", cfg.Server.Port),
		zap.String("db_driver", cfg.Database.Driver))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return err
	}
	defer store.Close()

	var gw gateway.Gateway
	if cfg.Gateway.Live() {
		mp, err := gateway.NewMercadoPago(cfg.Gateway, logger)
		if err != nil {
			logger.Error("failed to init mercado pago client", zap.Error(err))
			return err
		}
		gw = mp
	} else {
		logger.Warn("MERCADOPAGO_ACCESS_TOKEN not set, PIX charges are simulated")
		gw = gateway.NewStub(logger)
	}

	var notifier services.Notifier = services.LogNotifier{Logger: logger}
	if cfg.Telegram.Token != "" {
		bot, err := services.NewTelegramNotifier(cfg.Telegram.Token, cfg.Telegram.AdminIDs, logger)
		if err != nil {
			logger.Warn("failed to init telegram bot, notifications go to the log", zap.Error(err))
		} else {
			notifier = bot
			go bot.Listen(ctx)
		}
	} else {
		logger.Warn("TELEGRAM_TOKEN not set, bot features disabled")
	}

	auth, err := appmw.NewAdminAuth(cfg.Admin, cfg.Telegram, logger)
	if err != nil {
		logger.Error("failed to init admin auth", zap.Error(err))
		return err
	}
	paymentLimiter := appmw.NewRateLimiter(cfg.RateLimit.PaymentRPS, cfg.RateLimit.PaymentBurst, logger)
	webhookLimiter := appmw.NewRateLimiter(cfg.RateLimit.WebhookRPS, cfg.RateLimit.WebhookBurst, logger)
	adminLimiter := appmw.NewRateLimiter(cfg.RateLimit.AdminRPS, cfg.RateLimit.AdminBurst, logger)
	for _, l := range []*appmw.RateLimiter{paymentLimiter, webhookLimiter, adminLimiter} {
		l.StartJanitor(ctx, 5*time.Minute)
	}
	if !cfg.Server.TrustProxy {
		logger.Info("TRUST_PROXY not set, clients are identified by their socket address")
	}

	h := handlers.New(
		services.NewLedger(store, logger),
		services.NewRaffleService(store, cfg.Reservation.DefaultReserveHours, logger),
		services.NewReconciler(store, gw, notifier, logger),
		logger,
	)

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: router.New(router.Deps{
			Handler:        h,
			AdminAuth:      auth,
			PaymentLimiter: paymentLimiter,
			WebhookLimiter: webhookLimiter,
			AdminLimiter:   adminLimiter,
			CORSOrigins:    cfg.CORSOrigins,
			TrustProxy:     cfg.Server.TrustProxy,
			Logger:         logger,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 70 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return serve(ctx, srv, 30*time.Second, logger)
}

// serve runs srv until ctx is done, then drains it within grace. A listener
// failure is returned instead of ending the process, so deferred cleanup in
// the caller still runs.
func serve(ctx context.Context, srv *http.Server, grace time.Duration, logger *zap.Logger) error {
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		logger.Error("failed to start server", zap.Error(err))
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
