// Package app wires configuration into a running engine. Both the server
// and the CLI build their dependencies here.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiwari-pos/kanban/internal/cardstore"
	"github.com/kiwari-pos/kanban/internal/config"
	"github.com/kiwari-pos/kanban/internal/lock"
	"github.com/kiwari-pos/kanban/internal/service"
	"github.com/kiwari-pos/kanban/internal/ws"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Options selects the optional parts of the engine.
type Options struct {
	// Realtime creates a websocket hub and pushes notifications through it.
	Realtime bool
	// Opener receives the link of every directly ordered ONLINE card.
	Opener service.LinkOpener
}

// App holds the wired engine.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Store     service.CardStore
	Board     *service.Board
	Processor *service.Processor
	Guard     lock.Guard
	Hub       *ws.Hub      // nil unless Options.Realtime
	Notifier  *ws.Notifier // nil unless Options.Realtime

	// Pool is set for the postgres card store.
	Pool *pgxpool.Pool

	closers []func()
}

// New connects the configured backends. Call Close when done.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	guard, err := a.openGuard(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Guard = guard

	notifiers := service.MultiNotifier{service.LogNotifier{Logger: logger.Named("notify")}}
	if opts.Realtime {
		a.Hub = ws.NewHub(logger.Named("ws"))
		a.Notifier = ws.NewNotifier(a.Hub, cfg.TenantID)
		notifiers = append(notifiers, a.Notifier)
	}

	a.Board = service.NewBoard(store, cfg.TenantID, logger.Named("board"))
	gate := service.NewEmailGate(a.composer(), store)
	a.Processor = service.NewProcessor(store, gate, a.Board, notifiers, opts.Opener,
		service.WithConcurrency(cfg.BatchConcurrency),
		service.WithLinkStagger(cfg.LinkStagger),
		service.WithLogger(logger.Named("batch")),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) (service.CardStore, error) {
	cfg := a.Config
	switch cfg.CardStore {
	case config.StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if err := pool.Ping(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		a.Pool = pool
		a.Logger.Info("card store: postgres")
		return cardstore.NewPostgresStore(pool, cfg.TenantID), nil

	default:
		a.Logger.Info("card store: http", zap.String("url", cfg.CardStoreURL))
		return cardstore.NewHTTPStore(a.httpConfig(cfg.CardStoreURL), a.Logger.Named("cardstore")), nil
	}
}

func (a *App) composer() service.Composer {
	if a.Config.ComposeURL == "" {
		return cardstore.TemplateComposer{}
	}
	return cardstore.NewHTTPComposer(a.httpConfig(a.Config.ComposeURL), a.Logger.Named("compose"))
}

func (a *App) httpConfig(baseURL string) cardstore.HTTPConfig {
	return cardstore.HTTPConfig{
		BaseURL:     baseURL,
		TokenSecret: a.Config.CardStoreTokenSecret,
		TenantID:    a.Config.TenantID,
		CompanyID:   a.Config.CompanyID,
		Timeout:     a.Config.HTTPTimeout,
		Breaker:     cardstore.DefaultBreakerConfig(),
	}
}

// openGuard uses Redis when configured so that several engine instances
// share batch guards, and an in-process guard otherwise.
func (a *App) openGuard(ctx context.Context) (lock.Guard, error) {
	if a.Config.RedisURL == "" {
		return lock.NewMemoryGuard(), nil
	}
	opts, err := redis.ParseURL(a.Config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func() { client.Close() })
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return lock.NewRedisGuard(client, lock.DefaultTTL, a.Logger.Named("lock")), nil
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
