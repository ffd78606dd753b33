package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/life-stream-dev/life-stream-go-sockmux/internal/config"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/database"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/event"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/logger"
	"github.com/life-stream-dev/life-stream-go-sockmux/internal/server"
)

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "configuration file (.json, .toml, .yaml)")
	addr := pflag.String("addr", "", "listen address, overrides broker.addr")
	pflag.Parse()

	cfg, err := config.ReadConfigFrom(*configPath)
	if err != nil {
		logger.FatalF("Error occured while reading config %v", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Broker.Addr = *addr
	}

	loggerCallback := logger.Init(cfg.LogDir, cfg.DebugMode, nil)
	logger.Debug("Application initializing...")
	cleaner := event.NewCleaner()
	ctx := cleaner.Init(context.Background(), loggerCallback)
	defer cleaner.Clean()

	store, err := openStore(ctx, cfg, cleaner)
	if err != nil {
		logger.FatalF("Error occured while initializing database, details: %v", err)
		return
	}

	broker := server.New(server.Options{
		WriteTimeout:       cfg.Broker.WriteTimeoutDuration(),
		PersistentSessions: cfg.Broker.PersistentSessions,
		Store:              store,
	})
	httpServer := &http.Server{
		Addr:              cfg.Broker.Addr,
		Handler:           broker.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	cleaner.Add(server.NewShutdownCallback(httpServer, broker))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.InfoF("Broker listening on %s", cfg.Broker.Addr)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.ErrorF("Broker stopped: %v", err)
	}
}

// openStore 根据配置选择会话存储，mongo 存储外层套一层 LRU 缓存
func openStore(ctx context.Context, cfg config.Config, cleaner *event.Cleaner) (database.SessionStore, error) {
	if cfg.Broker.Store != config.StoreMongo {
		return database.NewMemoryStore(), nil
	}
	dbStore, closeCallback, err := database.ConnectDatabase(ctx, cfg.Database, cfg.AppName)
	if err != nil {
		return nil, err
	}
	cleaner.Add(closeCallback)
	return database.NewCachedStore(dbStore, cfg.Broker.SessionCacheSize, cfg.Broker.SessionCacheTTLDuration()), nil
}
