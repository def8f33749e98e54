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
	"golang.org/x/sync/errgroup"

	"github.com/lojf/paygate/internal/bot"
	"github.com/lojf/paygate/internal/config"
	"github.com/lojf/paygate/internal/db"
	"github.com/lojf/paygate/internal/events"
	"github.com/lojf/paygate/internal/logging"
	"github.com/lojf/paygate/internal/paypal"
	"github.com/lojf/paygate/internal/services"
	"github.com/lojf/paygate/internal/web"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	err = run(cfg, log)
	if err != nil {
		log.Error("server stopped", zap.Error(err))
	}
	_ = log.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	conn, err := db.Open(cfg.Database, logging.Gorm(log, cfg.Log.Level == "debug"), log)
	if err != nil {
		return fmt.Errorf("db init: %w", err)
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}

	registry, err := services.RegistryFromConfig(cfg.Payments.Methods)
	if err != nil {
		return err
	}

	tg := bot.NewClient(cfg.Telegram, log)
	hub := events.NewHub()
	bot.NewNotifier(tg, cfg.Telegram.AdminID, log).Subscribe(hub)

	payments := services.NewPaymentLedger(conn, log)
	users := services.NewAccessLedger(conn, log)
	sessions := services.NewSessionStore(conn)
	reconciler := services.NewReconciler(conn, payments, users, bot.NewInviter(tg, cfg.Telegram.InviteLink), hub, log)

	// Without credentials automated methods fail with a gateway error
	// while manual ones keep working.
	var gateway services.Gateway
	if cfg.PayPal.ClientID != "" && cfg.PayPal.ClientSecret != "" {
		gateway = paypal.NewClient(cfg.PayPal, log)
	} else {
		log.Warn("paypal credentials missing, automated payments disabled")
	}

	checkout := services.NewCheckout(services.CheckoutDeps{
		Registry:   registry,
		Payments:   payments,
		Users:      users,
		Sessions:   sessions,
		Reconciler: reconciler,
		Gateway:    gateway,
		PublicURL:  cfg.Server.PublicURL,
		SessionTTL: cfg.Payments.SessionTTL,
	}, log)

	dispatcher := bot.NewDispatcher(bot.Deps{
		Messenger:  tg,
		Registry:   registry,
		Checkout:   checkout,
		Reconciler: reconciler,
		Payments:   payments,
		Users:      users,
		AdminID:    cfg.Telegram.AdminID,
		PublicURL:  cfg.Server.PublicURL,
	}, log)

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: web.Router(web.Deps{
			DB:            conn,
			Registry:      registry,
			Payments:      payments,
			Users:         users,
			Checkout:      checkout,
			Reconciler:    reconciler,
			Dispatcher:    dispatcher,
			WebhookSecret: cfg.Telegram.WebhookSecret,
			AdminToken:    cfg.Server.AdminToken,
			AdminID:       cfg.Telegram.AdminID,
		}, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("listening", zap.String("addr", srv.Addr), zap.String("public_url", cfg.Server.PublicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		return services.NewExpirySweeper(sessions, checkout, cfg.Payments.SweepInterval, log).Run(ctx)
	})
	if cfg.Telegram.Polling {
		g.Go(func() error {
			return bot.NewPoller(tg, dispatcher, log).Run(ctx)
		})
	}

	err = g.Wait()
	log.Info("shutdown complete")
	return err
}
