package main

import (
	"os"

	"livechat-backend/internal/api"
	"livechat-backend/internal/api/router"
	"livechat-backend/internal/bootstrap"
	"livechat-backend/internal/env"
	"livechat-backend/internal/logger"
	"livechat-backend/internal/queue"
	"livechat-backend/internal/service/inbound"
	"livechat-backend/internal/websocket"

	"github.com/go-redis/redis/v8"
)

func main() {
	cfg, log := bootstrap.Init("incoming-server")

	ctx, stop := bootstrap.SignalContext()
	defer stop()

	registry, err := inbound.LoadRegistry(cfg.IncomingServicesFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.IncomingServicesFile).Msg("communication services init failed")
	}
	log.Info().Int("services", registry.Len()).Msg("communication services loaded")

	repo, err := bootstrap.NewRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}

	var rdb redis.UniversalClient
	if cfg.LockBackend == env.LockBackendRedis {
		rdb, err = bootstrap.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			log.Fatal().Err(err).Msg("redis init failed")
		}
		defer rdb.Close()
	}

	locker, err := bootstrap.NewLocker(cfg, rdb, log)
	if err != nil {
		log.Fatal().Err(err).Msg("locker init failed")
	}

	var events inbound.EventPublisher
	if rdb != nil {
		events = websocket.NewPublisher(rdb)
	}
	messageRouter := inbound.NewRouter(repo, locker, events, logger.Component(log, "inbound"))

	queueManager := queue.NewRequestQueueManager(cfg.QueueSize, cfg.MaxWorkers, log)
	defer queueManager.Shutdown()

	server := api.NewAPIServer(
		api.ServerConfig{
			ListenAddr:      cfg.IncomingListenAddr,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		queueManager,
		log,
		router.UtilsRoutes("/api/incoming/v1"),
		router.IncomingRoutes("/api/incoming/v1", registry, messageRouter, bootstrap.NewIncomingLimiter(cfg, rdb)),
	)

	if err := server.Run(ctx); err != nil {
		log.Error().Err(err).Msg("incoming server stopped with error")
		os.Exit(1)
	}
}
