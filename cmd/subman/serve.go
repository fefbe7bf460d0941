package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/symbiote-h2020/SubscriptionManager/pkg/api"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/config"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/fanout"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/membership"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/messaging"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/metrics"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/model"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/security"
	"github.com/symbiote-h2020/SubscriptionManager/pkg/store"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the subscription manager node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configFile)
			if err != nil {
				return err
			}
			logger, err := newLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()
			return run(cfg, logger)
		},
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting subscription manager",
		zap.String("platform_id", cfg.PlatformID),
		zap.String("http_addr", cfg.HTTPAddr))

	var sec security.Manager
	if cfg.Security.Enabled {
		sec = security.NewHMACManager(cfg.PlatformID, cfg.Security.Secret)
	} else {
		logger.Info("security request validation is disabled")
		sec = security.Disabled{}
	}

	federations := store.NewMemoryFederationStore()
	resources := store.NewMemoryFederatedResourceStore()
	subscriptions := store.NewMemorySubscriptionStore()

	// The node's own subscription row always exists; the owner overwrites
	// it through the subscribe endpoint.
	if _, err := subscriptions.Get(cfg.PlatformID); err != nil {
		if err := subscriptions.Save(model.NewSubscription(cfg.PlatformID)); err != nil {
			return err
		}
	}

	m := metrics.New()

	rabbit := messaging.NewRabbitManager(cfg.Rabbit, logger)
	if err := rabbit.Connect(); err != nil {
		return err
	}
	defer rabbit.Close()

	engine := fanout.New(cfg.PlatformID, federations, resources, subscriptions,
		sec, fanout.NewSecuredClient(sec, nil), m, logger)
	tracker := membership.New(cfg.PlatformID, federations, resources, subscriptions,
		rabbit, m, logger)
	tracker.SetNotifier(engine)
	engine.SetAddressBook(tracker)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	consumers := messaging.NewConsumers(rabbit, tracker, engine, m, logger)
	if err := consumers.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := m.Serve(cfg.MetricsAddr, logger); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics endpoint failed", zap.Error(err))
		}
	}()

	handler := api.NewHandler(cfg.PlatformID, federations, resources, subscriptions,
		sec, rabbit, tracker, engine, logger)
	server := api.NewServer(cfg.HTTPAddr, handler, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
	return nil
}
