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

	"github.com/kiwari-pos/kanban/internal/app"
	"github.com/kiwari-pos/kanban/internal/config"
	"github.com/kiwari-pos/kanban/internal/handler"
	"github.com/kiwari-pos/kanban/internal/logger"
	"github.com/kiwari-pos/kanban/internal/router"
	"github.com/kiwari-pos/kanban/internal/service"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{Realtime: true})
	if err != nil {
		log.Fatal("start engine", zap.Error(err))
	}
	defer a.Close()

	go a.Hub.Run(ctx)
	go refreshLoop(ctx, a, cfg.RefreshInterval)

	kanbanHandler := handler.NewKanbanHandler(a.Board, a.Processor, a.Guard, a.Notifier, log.Named("http"))
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router.New(cfg, kanbanHandler, a.Hub, log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // a batch may run long
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exited")
}

// refreshLoop loads the default tenant's board now and then reloads every
// tenant's board each interval until ctx is done. A failed refresh keeps
// the previous snapshot.
func refreshLoop(ctx context.Context, a *app.App, interval time.Duration) {
	refresh := func(ctx context.Context) {
		if err := a.Board.Refresh(ctx); err != nil {
			if ctx.Err() == nil {
				a.Logger.Warn("board refresh failed", zap.Error(err))
			}
			return
		}
		a.Notifier.BoardRefreshed(ctx, a.Board.RefreshedAt(ctx))
	}

	refresh(ctx)
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh(ctx)
			for _, scope := range a.Board.Scopes() {
				refresh(service.WithScope(ctx, scope))
			}
		}
	}
}
