// Package main はlanebotサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lanebot/internal/camera"
	"lanebot/internal/config"
	"lanebot/internal/logging"
	"lanebot/internal/robot"
)

func main() {
	// コマンドラインオプション
	var (
		configPath  = flag.String("config", "lanebot.yaml", "設定ファイルのパス")
		host        = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port        = flag.Int("port", 0, "サーバーのポート (デフォルト: 5000)")
		driverKind  = flag.String("driver", "", "モータードライバ (loborobot|can|serial|fake)")
		source      = flag.String("camera", "", "カメラソース (gst|ffmpeg|synthetic)")
		listCameras = flag.Bool("list-cameras", false, "接続されているカメラを一覧表示して終了")
		help        = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("lanebot")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	if *listCameras {
		if err := printCameras(); err != nil {
			log.Fatalf("カメラの検出に失敗しました: %v", err)
		}
		return
	}

	// 設定を読み込む
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driverKind != "" {
		cfg.Driver.Kind = *driverKind
	}
	if *source != "" {
		cfg.Camera.Source = *source
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定が不正です: %v", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := robot.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("ロボットの起動に失敗しました", zap.Error(err))
	}

	logger.Info("lanebot サーバーを起動します", zap.String("addr", cfg.ServerAddress()))
	if err := app.Run(ctx); err != nil {
		logger.Error("ロボットが異常終了しました", zap.Error(err))
		os.Exit(1)
	}
}

// printCameras は検出したカメラを表示する
func printCameras() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	discovery := camera.NewLinuxDiscovery()
	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("カメラが見つかりません")
		return nil
	}

	for _, device := range devices {
		info, err := discovery.GetDeviceInfo(ctx, device)
		if err != nil {
			fmt.Printf("%s\t(情報を取得できません: %v)\n", device, err)
			continue
		}
		fmt.Printf("%s\t%s\t%v\n", info.Device, info.Name, info.Formats)
	}
	return nil
}
