package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	appcfg "github.com/park285/hpl-runner/internal/config"
	"github.com/park285/hpl-runner/internal/obslog"
)

func main() {
	// .env 는 선택 사항
	_ = godotenv.Load()

	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer obslog.Sync()
	logger := obslog.L()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	a, err := newApp(initCtx, cfg, logger, os.Stdout)
	cancel()
	if err != nil {
		logger.Error("app_init_failed", zap.Error(err))
		log.Fatalf("init error: %v", err)
	}
	defer a.close()

	logger.Info("runner_started",
		zap.String("minigame", cfg.Minigame.String()),
		zap.Bool("offline", cfg.Offline),
		zap.Bool("redis", cfg.RedisURL != ""),
		zap.Bool("postgres", cfg.DatabaseURL != ""),
		zap.Bool("feed", cfg.FeedWSURL != ""),
	)
	a.run(ctx, os.Stdin)
}
