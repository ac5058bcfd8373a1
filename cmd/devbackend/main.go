// Command devbackend serves the storefront account API (login, identity,
// account cart with idempotent merge, wishlist) for local development of the
// cartsync client.
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

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/storefront/cartsync/internal/application/account"
	"github.com/storefront/cartsync/internal/domain/shared"
	"github.com/storefront/cartsync/internal/infrastructure/auth"
	"github.com/storefront/cartsync/internal/infrastructure/cache"
	"github.com/storefront/cartsync/internal/infrastructure/config"
	"github.com/storefront/cartsync/internal/infrastructure/logger"
	"github.com/storefront/cartsync/internal/infrastructure/telemetry"
	"github.com/storefront/cartsync/internal/interfaces/http/router"
)

//	@title			Storefront Account API
//	@version		1.0
//	@description	Development backend for the cartsync client

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

type options struct {
	configFile   string
	seedEmail    string
	seedPassword string
	loginRPS     float64
}

func main() {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "devbackend",
		Short:         "Run the storefront development backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.configFile, "config", "", "config file (default ./cartsync.toml)")
	cmd.Flags().StringVar(&opts.seedEmail, "seed-email", "demo@example.com", "register this user at startup; empty disables seeding")
	cmd.Flags().StringVar(&opts.seedPassword, "seed-password", "password-123", "password of the seeded user")
	cmd.Flags().Float64Var(&opts.loginRPS, "login-rps", 5, "login attempts per second per client IP; 0 disables limiting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "devbackend:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options) error {
	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: logger.DefaultTimeFormat,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer logger.Sync(log)

	log.Info("Starting storefront dev backend",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.DevBackend.Port),
	)

	providers, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	idempotency, err := openIdempotencyStore(cfg, log)
	if err != nil {
		return err
	}
	defer idempotency.Close()

	accounts := account.NewService(idempotency,
		account.WithLogger(log.Named("account")),
		account.WithIdempotencyTTL(cfg.DevBackend.IdempotencyTTL),
	)
	if opts.seedEmail != "" {
		if _, err := accounts.Register(opts.seedEmail, opts.seedPassword); err != nil {
			return fmt.Errorf("seed user %s: %w", opts.seedEmail, err)
		}
	}

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := router.NewEngine(router.Config{
		Accounts:           accounts,
		JWTService:         auth.NewJWTService(cfg.DevBackend.JWTSecret, cfg.DevBackend.TokenTTL, cfg.App.Name),
		Revocations:        auth.NewRevocationList(),
		Logger:             log,
		ServiceName:        cfg.Telemetry.ServiceName + "-devbackend",
		TracingEnabled:     cfg.Telemetry.Enabled,
		LoginRatePerSecond: opts.loginRPS,
		LoginBurst:         10,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.DevBackend.Port,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("Server exited gracefully")
	return nil
}

func openIdempotencyStore(cfg *config.Config, log *zap.Logger) (shared.IdempotencyStore, error) {
	store, err := cache.OpenIdempotencyStore(cache.StoreOptions{
		UseRedis:      cfg.DevBackend.UseRedis,
		Redis:         cfg.Store.Redis,
		AllowFallback: cfg.App.Env != "production",
		Logger:        log,
	})
	if err != nil {
		return nil, fmt.Errorf("open idempotency store: %w", err)
	}
	return store, nil
}
