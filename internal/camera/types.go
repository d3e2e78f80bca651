package camera

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"lanebot/internal/config"
)

var (
	// ErrClosed は閉じたソースからの取得を示す
	ErrClosed = errors.New("カメラソースは閉じられています")
	// ErrNoDevice はカメラデバイスが見つからないことを示す
	ErrNoDevice = errors.New("カメラデバイスが見つかりません")
	// ErrUnknownSource は未知のソース種別を示す
	ErrUnknownSource = errors.New("未知のカメラソースです")
)

// Source はカメラ画像の取得元
type Source interface {
	// Capture は次のフレームを返す
	// nil 画像と nil エラーは取り逃し（次の反復で再試行する）
	Capture(ctx context.Context) (*image.RGBA, error)

	// Close は取得を止める。複数回呼んでもよい
	Close() error
}

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device  string   // デバイスパス
	Name    string   // デバイス名
	Formats []string // サポートされるフォーマット
}

// Open は設定に応じてカメラソースを開く
// デバイスが未指定なら discovery で最初に見つかったものを使う
func Open(ctx context.Context, cfg config.CameraConfig, discovery Discovery, clk clock.Clock, logger *zap.Logger) (Source, error) {
	if cfg.Source == "synthetic" {
		return NewSyntheticSource(cfg.Width, cfg.Height, cfg.FPS, clk), nil
	}

	device := cfg.Device
	if device == "" && cfg.Pipeline == "" {
		found, err := DefaultDevice(ctx, discovery)
		if err != nil {
			return nil, err
		}
		device = found
	}

	switch cfg.Source {
	case "gst":
		pipeline := cfg.Pipeline
		if pipeline == "" {
			pipeline = GstPipeline(device, cfg.Width, cfg.Height, cfg.FPS)
		}
		return NewGstSource(pipeline, cfg.Width, cfg.Height)
	case "ffmpeg":
		return NewFFmpegSource(device, cfg.Width, cfg.Height, cfg.FPS, logger), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, cfg.Source)
	}
}

// DefaultDevice は最初に見つかったカメラデバイスを返す
func DefaultDevice(ctx context.Context, discovery Discovery) (string, error) {
	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("カメラの検出に失敗: %w", err)
	}
	if len(devices) == 0 {
		return "", ErrNoDevice
	}
	return devices[0], nil
}
