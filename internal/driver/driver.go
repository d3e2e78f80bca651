// Package driver はモーターとサーボを動かすハードウェアドライバを提供します。
//
// 実装:
//   - Loborobot: PCA9685 (I2C) とGPIOで4輪を駆動する拡張ボード
//   - CANBus: CANバス上のモーターノード
//   - SerialBridge: シリアル接続のマイコンへの行プロトコル
//   - Fake: 呼び出しを記録するだけのテスト用ドライバ
package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lanebot/internal/config"
)

// Direction はモーターの回転方向
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// 車輪番号
const (
	WheelLeftFront  = 0
	WheelRightFront = 1
	WheelLeftRear   = 2
	WheelRightRear  = 3
	WheelCount      = 4
)

// ErrUnknownKind は未知のドライバ種別を示す
var ErrUnknownKind = errors.New("未知のドライバ種別です")

// Motors は車輪モーターの操作
type Motors interface {
	SetWheelSpeed(ctx context.Context, wheel int, dir Direction, duty int) error
	StopAll(ctx context.Context) error
}

// Servos はサーボの操作
type Servos interface {
	// SetServoAngle は角度 (0-180) を設定し、settle の間サーボの移動を待つ
	SetServoAngle(ctx context.Context, channel, angle int, settle time.Duration) error
}

// Driver はモーターとサーボを持つボード
type Driver interface {
	Motors
	Servos
	Close() error
}

// Open は設定に応じてドライバを開く
func Open(ctx context.Context, cfg config.DriverConfig) (Driver, error) {
	switch cfg.Kind {
	case "loborobot":
		return OpenLoborobot(cfg)
	case "can":
		return OpenCAN(ctx, cfg.CANInterface, cfg.CANBaseID)
	case "serial":
		return OpenSerial(cfg.SerialPort, cfg.SerialBaud)
	case "fake":
		return NewFake(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, cfg.Kind)
	}
}

func validateWheel(wheel int) error {
	if wheel < 0 || wheel >= WheelCount {
		return fmt.Errorf("無効な車輪番号: %d", wheel)
	}
	return nil
}

func validateDuty(duty int) error {
	if duty < 0 || duty > 100 {
		return fmt.Errorf("無効なデューティ比: %d", duty)
	}
	return nil
}

func validateAngle(angle int) error {
	if angle < 0 || angle > 180 {
		return fmt.Errorf("無効なサーボ角度: %d", angle)
	}
	return nil
}

// settle はサーボの移動を待つ（コンテキストのキャンセルで打ち切る）
func settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
