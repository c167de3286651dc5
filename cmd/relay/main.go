// Package main provides the chat relay server: a websocket endpoint that routes
// room chat, private messages, and typing indicators between connected users.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/cory-johannsen/chatrelay/internal/config"
	"github.com/cory-johannsen/chatrelay/internal/frontend/websocket"
	"github.com/cory-johannsen/chatrelay/internal/health"
	"github.com/cory-johannsen/chatrelay/internal/observability"
	"github.com/cory-johannsen/chatrelay/internal/relay"
	"github.com/cory-johannsen/chatrelay/internal/server"
	"github.com/cory-johannsen/chatrelay/internal/storage/cache"
	"github.com/cory-johannsen/chatrelay/internal/storage/memory"
	"github.com/cory-johannsen/chatrelay/internal/storage/postgres"
)

const healthInterval = 10 * time.Second

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file; empty = defaults and RELAY_* environment only")
	flag.Parse()

	var (
		cfg config.Config
		err error
	)
	if *configPath == "" {
		cfg, err = config.LoadDefaults()
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging, "chatrelay")
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("starting chat relay",
		zap.String("addr", cfg.Server.Addr()),
		zap.String("path", cfg.Server.Path),
		zap.String("storage", cfg.Storage.Driver),
	)

	ctx := context.Background()
	lifecycle := server.NewLifecycle(logger)
	lifecycle.SetStopTimeout(cfg.Server.ShutdownTimeout)

	// Health is added first so it is stopped last.
	var healthSrv *health.Server
	if cfg.Health.GRPCPort != 0 {
		healthSrv = health.NewServer(cfg.Health, logger)
		lifecycle.Add("health", &server.FuncService{
			StartFn: healthSrv.ListenAndServe,
			StopFn:  healthSrv.Stop,
		})
	}

	// Persistence gateway
	var (
		gateway relay.Gateway
		check   health.Check
	)
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		dbStart := time.Now()
		pool, err := postgres.NewPool(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		logger.Info("database connected",
			zap.String("host", cfg.Database.Host),
			zap.Int("port", cfg.Database.Port),
			zap.String("database", cfg.Database.Name),
			zap.Duration("elapsed", time.Since(dbStart)),
		)
		gateway = postgres.NewGateway(pool.DB())
		check = func(ctx context.Context) error {
			return pool.Health(ctx, cfg.Relay.GatewayTimeout)
		}
		lifecycle.Add("postgres", &server.FuncService{
			StopFn: func() {
				logger.Info("closing database pool", pool.Stats()...)
				pool.Close()
			},
		})

	case config.DriverMemory:
		store := memory.NewStore()
		if cfg.Storage.SeedFile != "" {
			seed, err := memory.LoadSeed(cfg.Storage.SeedFile)
			if err != nil {
				logger.Fatal("loading seed file", zap.String("path", cfg.Storage.SeedFile), zap.Error(err))
			}
			store.Apply(seed)
			logger.Info("seed data loaded",
				zap.String("path", cfg.Storage.SeedFile),
				zap.Int("users", len(seed.Users)),
				zap.Int("conversations", len(seed.Conversations)),
			)
		}
		logger.Warn("using in-memory storage; messages are lost on restart")
		gateway = store
		check = func(context.Context) error { return nil }
	}

	if cfg.Cache.Enabled {
		rdb, err := cache.NewClient(ctx, cfg.Cache)
		if err != nil {
			logger.Fatal("connecting to redis", zap.String("addr", cfg.Cache.Addr), zap.Error(err))
		}
		logger.Info("profile cache enabled", zap.String("addr", cfg.Cache.Addr), zap.Duration("ttl", cfg.Cache.TTL))
		gateway = cache.NewProfileCache(gateway, rdb, cfg.Cache.TTL, logger)
		lifecycle.Add("redis", &server.FuncService{
			StopFn: func() {
				if err := rdb.Close(); err != nil {
					logger.Warn("closing redis client", zap.Error(err))
				}
			},
		})
	}

	// Relay core
	hub := relay.NewHub(logger)
	router := relay.NewRouter(hub, gateway, cfg.Relay.GatewayTimeout, logger)
	lifecycle.Add("hub", &server.FuncService{StopFn: hub.Shutdown})

	acceptor := websocket.NewAcceptor(cfg.Server, cfg.Relay.RateLimit, hub, router, logger)
	lifecycle.Add("websocket", &server.FuncService{
		StartFn: acceptor.ListenAndServe,
		StopFn:  acceptor.Stop,
	})

	// Added last so shutdown reports NOT_SERVING before sessions drain.
	if healthSrv != nil {
		watchCtx, cancelWatch := context.WithCancel(ctx)
		lifecycle.Add("health-watch", &server.FuncService{
			StartFn: func() error {
				healthSrv.Watch(watchCtx, healthInterval, check)
				return nil
			},
			StopFn: func() {
				cancelWatch()
				healthSrv.SetServing(false)
			},
		})
	}

	logger.Info("chat relay initialized",
		zap.Duration("startup", time.Since(start)),
		zap.String("ws_url", fmt.Sprintf("ws://%s%s", cfg.Server.Addr(), cfg.Server.Path)),
		zap.Bool("rate_limit", cfg.Relay.RateLimit.Enabled()),
		zap.Bool("cache", cfg.Cache.Enabled),
	)

	if err := lifecycle.Run(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
