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

	"eventure-checkout/internal/auth"
	"eventure-checkout/internal/backend"
	"eventure-checkout/internal/checkin"
	"eventure-checkout/internal/checkout"
	"eventure-checkout/internal/config"
	"eventure-checkout/internal/database"
	"eventure-checkout/internal/handlers"
	"eventure-checkout/internal/middleware"
	"eventure-checkout/internal/storage"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var (
		envFile = pflag.String("env-file", "", "Load environment from this file instead of .env.local/.env")
		addr    = pflag.String("addr", "", "Listen address (overrides HOST and PORT)")
	)
	pflag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	// Load configuration
	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, *addr, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Server.IsProduction() {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func run(cfg *config.Config, addr string, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	api := backend.NewClient(backend.Config{
		BaseURL: cfg.Backend.URL,
		Timeout: cfg.Backend.Timeout,
	}, logger)

	registry := handlers.NewRegistry(store, api, handlers.RegistryOptions{
		KeyPrefix:   cfg.Storage.CartKey,
		IdleTTL:     cfg.Session.IdleTTL,
		MaxSessions: cfg.Session.MaxCarts,
		Checkout: checkout.Options{
			SettlementDelay:  cfg.Checkout.SettlementDelay,
			ReleaseOnFailure: cfg.Checkout.ReleaseOnFailure,
		},
	}, logger)

	cookies, err := middleware.NewCookieStore(cfg.Session.Secret, cfg.Server.IsProduction())
	if err != nil {
		return err
	}

	scanLimiter := middleware.NewRateLimiter(cfg.CheckIn.RateLimit, cfg.CheckIn.RateWindow)
	defer scanLimiter.Stop()

	router := handlers.NewRouter(handlers.Dependencies{
		Events:   api,
		Registry: registry,
		CheckIn: checkin.NewMachine(api, checkin.Options{
			EventID:    cfg.CheckIn.EventID,
			EventTitle: cfg.CheckIn.EventTitle,
		}, logger),
		Verifier:    auth.NewVerifier(cfg.Auth.JWTSecret),
		Sessions:    cookies,
		ScanLimiter: scanLimiter,
		CORS:        middleware.DefaultCORSConfig(),
		Logger:      logger,
	})

	if addr == "" {
		addr = cfg.Server.Addr()
	}
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.String("addr", addr),
			zap.String("env", cfg.Server.Env),
			zap.String("storage", cfg.Storage.Backend),
			zap.String("api_url", cfg.Backend.URL),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStorage connects the configured cart storage backend
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Store, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageSQLite, config.StoragePostgres:
		db, err := database.NewConnection(ctx, databaseConfig(cfg))
		if err != nil {
			return nil, nil, err
		}
		if err := database.NewMigrator(db.DB).WithLogger(logger).RunMigrations(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database connection established", zap.String("driver", db.Driver))
		return storage.NewSQLStore(db.DB), func() { db.Close() }, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info("redis connection established", zap.String("addr", cfg.Redis.Addr))
		return storage.NewRedisStore(client, "", cfg.Redis.TTL), func() { client.Close() }, nil

	default:
		logger.Warn("cart storage is in memory; carts are lost on restart")
		return storage.NewMemoryStore(), func() {}, nil
	}
}

func databaseConfig(cfg *config.Config) database.Config {
	if cfg.Storage.Backend == config.StorageSQLite {
		return database.Config{Driver: database.DriverSQLite, URL: cfg.Database.SQLitePath}
	}
	return database.Config{
		Driver:   database.DriverPostgres,
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}
}
