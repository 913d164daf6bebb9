package main

import (
	"os"

	"livechat-backend/internal/api"
	"livechat-backend/internal/api/router"
	"livechat-backend/internal/authz"
	"livechat-backend/internal/bootstrap"
	internaljwt "livechat-backend/internal/jwt"
	"livechat-backend/internal/logger"
	"livechat-backend/internal/queue"
	"livechat-backend/internal/websocket"

	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, log := bootstrap.Init("ws-server")

	ctx, stop := bootstrap.SignalContext()
	defer stop()

	repo, err := bootstrap.NewRepository(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("store init failed")
	}

	// Room events only reach this process through redis.
	rdb, err := bootstrap.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("redis init failed")
	}
	defer rdb.Close()

	queueManager := queue.NewRequestQueueManager(cfg.QueueSize, cfg.MaxWorkers, log)
	defer queueManager.Shutdown()

	hub := websocket.NewHub(logger.Component(log, "ws"))
	handler := websocket.NewHandler(hub, rdb, cfg.AllowedOrigins, log)

	server := api.NewAPIServer(
		api.ServerConfig{
			ListenAddr:      cfg.WSListenAddr,
			AllowedOrigins:  cfg.AllowedOrigins,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		queueManager,
		log,
		router.UtilsRoutes("/api/ws/v1"),
		router.WebsocketRoutes("/api/ws/v1", handler, internaljwt.NewSigner(cfg.UserSecret), authz.NewRoleAuthorizer(repo)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("ws server stopped with error")
		os.Exit(1)
	}
}
