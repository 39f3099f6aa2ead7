package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fitchat/internal/config"
	"fitchat/internal/repository/counters"
	messageRepo "fitchat/internal/repository/message"
	userRepo "fitchat/internal/repository/user"
	"fitchat/internal/service/friends"
	redisSvc "fitchat/internal/service/redis"
	"fitchat/internal/service/server"
	"fitchat/internal/service/session"
	"fitchat/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML/JSON config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	if err := log.Init(cfg.LogLevel); err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	mongoDBClient, err := initMongo(cfg.MongoURI)
	if err != nil {
		log.Fatal("connect mongo failed", zap.Error(err))
	}
	db := mongoDBClient.Database(cfg.MongoDatabase)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddress,
	})
	redisService := redisSvc.NewRedis(rdb)

	ids := counters.New(db)
	users := userRepo.NewUserRepo(db, ids)
	messages := messageRepo.NewMessageRepo(db, ids)
	sessions := session.NewStore(redisService, cfg.SessionTTL)
	graph := friends.NewMongoGraph(db)

	srv := server.NewHttpServer(users, messages, sessions, graph, log.L(), nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("chat server listening", zap.String("addr", cfg.ListenAddress))
	if err := srv.Run(ctx, cfg.ListenAddress); err != nil {
		log.Fatal("server exited with error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := mongoDBClient.Disconnect(shutdownCtx); err != nil {
		log.Error("mongo disconnect failed", zap.Error(err))
	}
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
