package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/tinymud/tinymud/internal/api"
	"github.com/tinymud/tinymud/internal/factory"
	redisstorage "github.com/tinymud/tinymud/internal/storage/redis"
)

// config is the environment-driven server configuration
type config struct {
	Host         string `env:"HOST" envDefault:""`
	Port         int    `env:"PORT" envDefault:"8080"`
	StorageType  string `env:"STORAGE_TYPE" envDefault:"sqlite"`
	SQLitePath   string `env:"SQLITE_PATH" envDefault:"tinymud.db"`
	RedisURL     string `env:"REDIS_URL" envDefault:""`
	JWTSecret    string `env:"JWT_SECRET,required"`
	StartAddress string `env:"START_ADDRESS" envDefault:""`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
}

func main() {
	root := &cobra.Command{
		Use:          "server",
		Short:        "Multiplayer world server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// The base context outlives individual connections: mutations keep
	// running when their session drops, and stop only on shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	factoryCfg := factory.Config{
		Logger:       logger,
		StorageType:  cfg.StorageType,
		SQLitePath:   cfg.SQLitePath,
		JWTSecret:    []byte(cfg.JWTSecret),
		StartAddress: cfg.StartAddress,
	}
	if cfg.StorageType == factory.StorageTypeRedis {
		if cfg.RedisURL == "" {
			return fmt.Errorf("REDIS_URL required when STORAGE_TYPE=redis")
		}
		redisCfg := redisstorage.DefaultConfig()
		redisCfg.URL = cfg.RedisURL
		factoryCfg.RedisConfig = &redisCfg
	}

	app, err := factory.New(ctx, factoryCfg)
	if err != nil {
		return fmt.Errorf("creating application: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Error("closing storage", slog.Any("error", err))
		}
	}()

	if err := app.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrapping world: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Logger:   logger,
		WSServer: app.WSServer,
	})

	serverCfg := api.DefaultServerConfig()
	serverCfg.Host = cfg.Host
	serverCfg.Port = cfg.Port
	server := api.NewServer(router, serverCfg, logger)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	logger.Info("server started", slog.String("addr", server.Addr()))

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		if err := server.Shutdown(context.Background()); err != nil {
			return err
		}
	}

	logger.Info("server stopped")
	return nil
}
