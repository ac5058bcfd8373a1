package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/application/reconcile"
	"github.com/storefront/cartsync/internal/infrastructure/config"
	"github.com/storefront/cartsync/internal/infrastructure/event"
	"github.com/storefront/cartsync/internal/infrastructure/gateway"
	"github.com/storefront/cartsync/internal/infrastructure/localstore"
	"github.com/storefront/cartsync/internal/infrastructure/logger"
	"github.com/storefront/cartsync/internal/infrastructure/session"
	"github.com/storefront/cartsync/internal/infrastructure/telemetry"
)

// app is the wired storefront client
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	providers *telemetry.Providers
	store     localstore.Store
	guest     *localstore.GuestCartRepository
	holder    *session.TokenHolder
	identity  *gateway.IdentityGateway
	bus       *event.InMemoryEventBus
	engine    *reconcile.Engine
}

func newApp(ctx context.Context, configFile string) (*app, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	a := &app{cfg: cfg, log: log}
	if err := a.wire(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, log := a.cfg, a.log

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	a.providers = providers
	meter := providers.Meter("cartsync")
	httpMetrics, err := telemetry.NewHTTPClientMetrics(meter)
	if err != nil {
		return fmt.Errorf("create http metrics: %w", err)
	}
	reconcileMetrics, err := telemetry.NewReconcileMetrics(meter)
	if err != nil {
		return fmt.Errorf("create reconcile metrics: %w", err)
	}

	store, err := localstore.NewFactory(cfg.Store,
		localstore.WithLogger(log.Named("localstore")),
		localstore.WithSQLLogLevel(cfg.Log.Level),
		localstore.WithMemoryFallback(false),
	).Open()
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	a.store = store
	a.guest = localstore.NewGuestCartRepository(localstore.NewBlob(store, cfg.Store.CartKey), log.Named("guest_cart"))

	holder, err := session.NewTokenHolder(ctx, localstore.NewBlob(store, cfg.Store.TokenKey), log.Named("session"))
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	a.holder = holder

	retry := gateway.DefaultRetryConfig()
	retry.MaxRetries = cfg.Backend.MaxRetries
	retry.RetryDelay = cfg.Backend.RetryDelay
	client, err := gateway.NewClient(cfg.Backend.BaseURL,
		gateway.WithTimeout(cfg.Backend.Timeout),
		gateway.WithRetry(retry),
		gateway.WithRateLimit(cfg.Backend.RequestsPerSecond, cfg.Backend.Burst),
		gateway.WithTokenSource(gateway.NewHolderTokenSource(holder)),
		gateway.WithObserver(httpMetrics),
		gateway.WithLogger(log.Named("gateway")),
		gateway.WithHeader("X-Client-Name", cfg.App.Name),
	)
	if err != nil {
		return fmt.Errorf("create backend client: %w", err)
	}
	a.identity = gateway.NewIdentityGateway(client)

	a.bus = event.NewInMemoryEventBus(log.Named("events"))
	engine, err := reconcile.NewEngine(reconcile.Dependencies{
		Session:    holder,
		Identity:   a.identity,
		Carts:      gateway.NewCartGateway(client),
		Wishlists:  gateway.NewWishlistGateway(client),
		GuestCarts: a.guest,
	},
		reconcile.WithLogger(log.Named("reconcile")),
		reconcile.WithMetrics(reconcileMetrics),
		reconcile.WithPublisher(a.bus),
	)
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	a.engine = engine
	return nil
}

// Close releases everything newApp opened
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if a.bus != nil {
		errs = append(errs, a.bus.Stop(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.providers != nil {
		errs = append(errs, a.providers.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Warn("shutdown incomplete", zap.Error(err))
	}
	logger.Sync(a.log)
}
