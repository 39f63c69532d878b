package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"memochat/internal/api"
	"memochat/internal/auth"
	"memochat/internal/config"
	"memochat/internal/redis"
	"memochat/internal/service/ai"
	"memochat/internal/service/assistant"
	"memochat/internal/storage"
	"memochat/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("memochat failed", "err", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "memochat",
		Short:         "Personal assistant chat server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", os.Getenv("MEMOCHAT_CONFIG"), "config file (.json or .toml)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfgPath)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(cfgPath)
			if err != nil {
				return err
			}
			db, dbType, err := openDatabase(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			slog.Info("database migrated", "driver", dbType)
			return nil
		},
	})
	return root
}

// setup loads .env and the config file and installs the logger.
func setup(cfgPath string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	if cfgPath == "" {
		cfgPath = os.Getenv("MEMOCHAT_CONFIG")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      parseLevel(cfg.BasicConfig.LogLevel),
		TimeFormat: time.Kitchen,
	})))
	return cfg, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openDatabase(cfg *config.Config) (*sql.DB, string, error) {
	dbType := os.Getenv("MEMOCHAT_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("migrate database: %w", err)
	}
	return db, dbType, nil
}

func runServe(parent context.Context, cfgPath string) error {
	cfg, err := setup(cfgPath)
	if err != nil {
		return err
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, dbType, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	slog.Info("database ready", "driver", dbType)

	var rdb *redis.Client
	if !cfg.Redis.Disabled {
		rdb, err = redis.NewRedisClient(cfg)
		if err != nil {
			slog.Warn("redis unavailable, running without cache", "err", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}

	assistantService, err := assistant.NewService(db, dbType)
	if err != nil {
		return fmt.Errorf("init assistant service: %w", err)
	}
	assistantService.StartTokenCleaner(ctx, assistant.DefaultTokenCleanupInterval)

	tokenTTL := time.Duration(cfg.BasicConfig.TokenTTL) * time.Hour
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	authService := auth.NewService(db, rdb, tokenTTL)

	registries := ai.NewRegistries(assistantService, ai.NewCatalog(cfg))
	manager := worker.NewManager(assistantService, registries, worker.Options{
		Dispatcher: worker.DispatcherConfig{
			MinWorkers:  cfg.BasicConfig.MinWorkers,
			MaxWorkers:  cfg.BasicConfig.MaxWorkers,
			QueueSize:   cfg.BasicConfig.QueueSize,
			IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
		},
		Cache:              rdb,
		Location:           cfg.Location(),
		SynthesisThreshold: cfg.BasicConfig.SynthesisThreshold,
		StreamTimeout:      time.Duration(cfg.BasicConfig.StreamTimeout) * time.Second,
	})
	defer manager.Close()

	handlers := api.NewHandler(assistantService, authService, registries, manager)
	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: router}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server stopped: %w", err)
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
