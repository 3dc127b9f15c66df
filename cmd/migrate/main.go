package main

import (
	"context"
	"fmt"
	"os"

	"eventure-checkout/internal/config"
	"eventure-checkout/internal/database"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	var (
		statusFlag = pflag.Bool("status", false, "Show migration status")
		upFlag     = pflag.Bool("up", false, "Run pending migrations")
		envFile    = pflag.String("env-file", "", "Load environment from this file")
	)
	pflag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	// Load configuration
	cfg, err := config.Load(envFiles...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	dbConfig := database.Config{
		Driver:   database.DriverPostgres,
		URL:      cfg.Database.URL,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}
	switch cfg.Storage.Backend {
	case config.StorageSQLite:
		dbConfig = database.Config{Driver: database.DriverSQLite, URL: cfg.Database.SQLitePath}
	case config.StoragePostgres:
	default:
		logger.Fatal("CART_STORAGE does not use a database", zap.String("storage", cfg.Storage.Backend))
	}

	ctx := context.Background()
	db, err := database.NewConnection(ctx, dbConfig)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db.DB).WithLogger(logger)

	switch {
	case *statusFlag:
		status, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal("failed to get migration status", zap.Error(err))
		}
		for _, s := range status {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%03d %-40s %s\n", s.Version, s.Name, state)
		}
	case *upFlag:
		if err := migrator.RunMigrations(ctx); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
		fmt.Println("All migrations completed successfully!")
	default:
		fmt.Println("Usage:")
		fmt.Println("  go run ./cmd/migrate --status   # Show migration status")
		fmt.Println("  go run ./cmd/migrate --up       # Run pending migrations")
		os.Exit(1)
	}
}
