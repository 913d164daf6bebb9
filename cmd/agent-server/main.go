package main

import (
	"os"

	"livechat-backend/internal/api"
	"livechat-backend/internal/api/router"
	"livechat-backend/internal/authz"
	"livechat-backend/internal/bootstrap"
	"livechat-backend/internal/env"
	internaljwt "livechat-backend/internal/jwt"
	"livechat-backend/internal/logger"
	"livechat-backend/internal/queue"
	"livechat-backend/internal/service/knowledge"
	roomservice "livechat-backend/internal/service/room"
	"livechat-backend/internal/websocket"

	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, log := bootstrap.Init("agent-server")

	ctx, stop := bootstrap.SignalContext()
	defer stop()

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

	queueManager := queue.NewRequestQueueManager(cfg.QueueSize, cfg.MaxWorkers, log)
	defer queueManager.Shutdown()

	deps := roomservice.Dependencies{
		Repo:       repo,
		Locker:     locker,
		Authorizer: authz.NewRoleAuthorizer(repo),
		Dispatcher: queueManager,
		Log:        logger.Component(log, "room-service"),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		adapter, err := knowledge.NewKafkaAdapter(cfg.Kafka, logger.Component(log, "knowledge"))
		if err != nil {
			log.Fatal().Err(err).Msg("knowledge adapter init failed")
		}
		defer adapter.Close()
		deps.Knowledge = adapter
	}
	if rdb != nil {
		deps.Events = websocket.NewPublisher(rdb)
	}
	service := roomservice.New(deps)

	sweeper := roomservice.NewSweeper(service, cfg.MergeSweepInterval, cfg.MergeStaleAfter, log)

	server := api.NewAPIServer(
		api.ServerConfig{
			ListenAddr:      cfg.AgentListenAddr,
			AllowedOrigins:  cfg.AllowedOrigins,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		queueManager,
		log,
		router.UtilsRoutes("/api/agent/v1"),
		router.RoomRoutes("/api/agent/v1", service, internaljwt.NewSigner(cfg.UserSecret)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		<-gctx.Done()
		sweeper.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("agent server stopped with error")
		os.Exit(1)
	}
}
