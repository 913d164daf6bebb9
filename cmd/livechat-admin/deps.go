package main

import (
	"context"
	"fmt"

	"livechat-backend/internal/authz"
	"livechat-backend/internal/bootstrap"
	"livechat-backend/internal/database"
	"livechat-backend/internal/env"
	"livechat-backend/internal/store"
	roomservice "livechat-backend/internal/service/room"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"
)

type deps struct {
	cfg  *env.Config
	log  zerolog.Logger
	repo store.Repository
	rdb  redis.UniversalClient
}

func loadDeps(ctx context.Context) (*deps, error) {
	cfg, log := bootstrap.Init("livechat-admin")
	repo, err := bootstrap.NewRepository(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	return &deps{cfg: cfg, log: log, repo: repo}, nil
}

func (d *deps) close() {
	if d.rdb != nil {
		d.rdb.Close()
	}
}

func (d *deps) dynamo(ctx context.Context) (*database.DynamoDBClient, error) {
	if d.cfg.StoreBackend != env.StoreBackendDynamo {
		return nil, fmt.Errorf("STORE_BACKEND is %q, tables only exist for %q", d.cfg.StoreBackend, env.StoreBackendDynamo)
	}
	return database.NewDynamoDBClient(ctx, d.cfg.AWS)
}

// roomService builds a service that takes the same locks as the servers,
// so resuming from here cannot race a live merge.
func (d *deps) roomService(ctx context.Context) (*roomservice.Service, error) {
	if d.cfg.LockBackend == env.LockBackendRedis {
		rdb, err := bootstrap.NewRedisClient(ctx, d.cfg.Redis)
		if err != nil {
			return nil, err
		}
		d.rdb = rdb
	}
	locker, err := bootstrap.NewLocker(d.cfg, d.rdb, d.log)
	if err != nil {
		return nil, err
	}
	return roomservice.New(roomservice.Dependencies{
		Repo:       d.repo,
		Locker:     locker,
		Authorizer: authz.NewRoleAuthorizer(d.repo),
		Log:        d.log,
	}), nil
}
