package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"lanebot/internal/config"
	"lanebot/internal/logging"
	"lanebot/internal/robot"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load(os.Getenv("LANEBOT_CONFIG"))
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// SIGINT/SIGTERMで停止する
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := robot.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("ロボットの起動に失敗しました", zap.Error(err))
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("ロボットが異常終了しました", zap.Error(err))
		os.Exit(1)
	}
}
