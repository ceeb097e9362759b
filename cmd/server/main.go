package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatroom/internal/config"
	"chatroom/internal/db"
	clog "chatroom/internal/log"
	"chatroom/internal/mw"
	"chatroom/internal/presence"
	"chatroom/internal/server"
	"chatroom/internal/service"
	"chatroom/internal/ws"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func main() {
	// main 函数负责加载配置、初始化日志、恢复持久化状态并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	var (
		persister service.Persister = service.Discard{}
		writer    *db.Writer
		snap      service.Snapshot
	)
	if cfg.DatabaseDSN != db.MemoryDSN {
		gdb, err := db.Connect(cfg.DatabaseDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("db connect")
		}
		if err := db.Migrate(gdb); err != nil {
			log.Fatal().Err(err).Msg("db migrate")
		}
		snap, err = db.LoadSnapshot(gdb)
		if err != nil {
			log.Fatal().Err(err).Msg("db load")
		}
		writer = db.NewWriter(gdb)
		persister = writer
	} else {
		log.Warn().Msg("running without persistence")
	}

	store := service.NewStore(persister, service.WithSessionTTL(time.Duration(cfg.SessionTTLDays)*24*time.Hour))
	store.Load(snap)
	users, rooms, messages := store.Stats()
	log.Info().Int("users", users).Int("rooms", rooms).Int("messages", messages).Msg("state loaded")

	sendLimiter := mw.NewKeyedLimiter(rate.Limit(cfg.WSSendRate), max(1, int(cfg.WSSendRate)*2), 10*time.Minute)
	httpLimiter := mw.NewKeyedLimiter(rate.Every(time.Second/20), 40, 10*time.Minute)
	hub := ws.NewHub(store, presence.NewRegistry(store),
		ws.WithHistoryLimit(cfg.HistoryLimit),
		ws.WithSendLimiter(sendLimiter),
	)

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, err := mw.NewRedisClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, login limiter disabled")
		} else {
			rdb = c
		}
	}

	r := server.SetupRouter(cfg, server.Deps{Store: store, Hub: hub, Limiter: httpLimiter, Redis: rdb})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server run")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	hub.CloseAll()
	sendLimiter.Stop()
	httpLimiter.Stop()
	if writer != nil {
		if err := writer.Close(ctx); err != nil {
			log.Error().Err(err).Msg("flush writes")
		}
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
