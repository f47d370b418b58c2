// Package factory wires storage, cache, services and the websocket
// layer into a runnable application.
package factory

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/tinymud/tinymud/internal/cache"
	"github.com/tinymud/tinymud/internal/dependencies/clock"
	"github.com/tinymud/tinymud/internal/model"
	"github.com/tinymud/tinymud/internal/services/auth"
	"github.com/tinymud/tinymud/internal/services/world"
	"github.com/tinymud/tinymud/internal/storage"
	"github.com/tinymud/tinymud/internal/storage/memory"
	redisstorage "github.com/tinymud/tinymud/internal/storage/redis"
	"github.com/tinymud/tinymud/internal/storage/sqlite"
	"github.com/tinymud/tinymud/internal/ws"
)

// Storage type constants
const (
	StorageTypeMemory = "memory"
	StorageTypeSQLite = "sqlite"
	StorageTypeRedis  = "redis"
)

// App contains all wired application components
type App struct {
	Store storage.Store
	Cache *cache.Cache
	Clock clock.Clock

	WorldService *world.Service
	Verifier     auth.Verifier

	HubManager *ws.HubManager
	Dispatcher *ws.Dispatcher
	WSServer   *ws.Server
}

// Config holds configuration for the application factory
type Config struct {
	// Logger is the application logger (optional)
	// If nil, a no-op logger is used
	Logger *slog.Logger
	// StorageType selects the storage backend ("memory", "sqlite" or "redis")
	// If empty, defaults to "sqlite"
	StorageType string
	// SQLitePath is the database file path (required if StorageType is "sqlite")
	SQLitePath string
	// RedisConfig holds Redis connection settings (required if StorageType is "redis")
	RedisConfig *redisstorage.Config
	// JWTSecret is the shared secret tokens are verified against
	JWTSecret []byte
	// StartAddress overrides the default starting place
	StartAddress string
	// WSConfig holds websocket timeouts (zero value uses defaults)
	WSConfig ws.Config
}

// New creates a new application with all dependencies wired. The
// context becomes the base context mutations run under; cancel it only
// when the whole server is going down.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	if len(cfg.JWTSecret) == 0 {
		return nil, errors.New("JWTSecret required")
	}

	storageType := cfg.StorageType
	if storageType == "" {
		storageType = StorageTypeSQLite
	}

	var store storage.Store
	switch storageType {
	case StorageTypeMemory:
		store = memory.New()
	case StorageTypeSQLite:
		if cfg.SQLitePath == "" {
			return nil, errors.New("SQLitePath required when StorageType is sqlite")
		}
		sqliteStore, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = sqliteStore
	case StorageTypeRedis:
		if cfg.RedisConfig == nil {
			return nil, errors.New("RedisConfig required when StorageType is redis")
		}
		redisStore, err := redisstorage.New(*cfg.RedisConfig)
		if err != nil {
			return nil, err
		}
		store = redisStore
	default:
		return nil, errors.New("invalid StorageType: must be 'memory', 'sqlite' or 'redis'")
	}

	clk := clock.New()
	verifier := auth.NewJWTVerifier(cfg.JWTSecret, clk)

	wsCfg := cfg.WSConfig
	if wsCfg.PingInterval == 0 {
		wsCfg = ws.DefaultConfig()
	}

	return newWithDependencies(ctx, store, clk, verifier, cfg.StartAddress, wsCfg, logger), nil
}

// newWithDependencies wires an App from the given dependencies (useful
// for testing)
func newWithDependencies(ctx context.Context, store storage.Store, clk clock.Clock, verifier auth.Verifier, startAddress string, wsCfg ws.Config, logger *slog.Logger) *App {
	entityCache := cache.New(store, logger)
	worldService := world.New(entityCache, world.Config{
		StartAddress: model.Address(startAddress),
	}, logger)

	hubManager := ws.NewHubManager(logger)
	dispatcher := ws.NewDispatcher(ctx, worldService, hubManager, logger)
	wsServer := ws.NewServer(verifier, worldService, dispatcher, hubManager, wsCfg, logger)

	return &App{
		Store:        store,
		Cache:        entityCache,
		Clock:        clk,
		WorldService: worldService,
		Verifier:     verifier,
		HubManager:   hubManager,
		Dispatcher:   dispatcher,
		WSServer:     wsServer,
	}
}

// Bootstrap prepares the world for serving (start place creation)
func (a *App) Bootstrap(ctx context.Context) error {
	return a.WorldService.EnsureStartPlace(ctx)
}

// Close releases held resources
func (a *App) Close() error {
	return a.Store.Close()
}
