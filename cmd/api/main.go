package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"renoflow/auth"
	"renoflow/bid"
	"renoflow/config"
	"renoflow/db"
	"renoflow/inspection"
	"renoflow/notify"
	"renoflow/ratelimit"
	"renoflow/request"
	"renoflow/sweep"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		return err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	outbox := notify.NewOutbox(pool, cfg.NotifyTimeout)

	interestRepo := inspection.NewRepository(pool)
	requestRepo := request.NewRepository(pool)
	requestSvc := request.NewService(requestRepo, interestRepo, outbox, logger)
	gate := inspection.NewGate(interestRepo, requestRepo)

	bidRepo := bid.NewRepository(pool)
	ledger := bid.NewLedger(bidRepo, requestRepo, gate, outbox, logger)

	authRepo := auth.NewRepository(pool)
	authSvc := auth.NewService(authRepo, cfg.JWTSecret)

	sweeper := sweep.NewService(requestSvc, cfg.SweepWorkers, logger)

	limiter := ratelimit.NewLimiter(rdb, 30, time.Minute, logger)

	server := NewServer(authSvc, requestSvc, gate, ledger, sweeper, limiter, cfg.SweepSecret, logger)

	logger.Info("listening", "addr", cfg.Addr)
	return http.ListenAndServe(cfg.Addr, server.Router())
}
