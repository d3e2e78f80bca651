package driver

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialBridge はシリアル接続のマイコンへ1行1コマンドで指示を送る
//
//	M <車輪> <方向> <デューティ>   車輪の速度
//	S                             全停止
//	V <チャンネル> <角度>          サーボ角度
type SerialBridge struct {
	mu   sync.Mutex
	port io.WriteCloser
}

// OpenSerial はシリアルポートを開く
func OpenSerial(portName string, baud int) (*SerialBridge, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("シリアルポート %s のオープンに失敗: %w", portName, err)
	}
	return NewSerialBridge(port), nil
}

// NewSerialBridge は書き込み先からSerialBridgeを作成する
func NewSerialBridge(port io.WriteCloser) *SerialBridge {
	return &SerialBridge{port: port}
}

func (b *SerialBridge) writeLine(format string, args ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	line := fmt.Sprintf(format, args...) + "\n"
	if _, err := io.WriteString(b.port, line); err != nil {
		return fmt.Errorf("シリアル書き込みに失敗: %w", err)
	}
	return nil
}

// SetWheelSpeed は車輪コマンドを送る
func (b *SerialBridge) SetWheelSpeed(ctx context.Context, wheel int, dir Direction, duty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateWheel(wheel); err != nil {
		return err
	}
	if err := validateDuty(duty); err != nil {
		return err
	}
	return b.writeLine("M %d %d %d", wheel, int(dir), duty)
}

// StopAll は全停止コマンドを送る
func (b *SerialBridge) StopAll(_ context.Context) error {
	return b.writeLine("S")
}

// SetServoAngle はサーボコマンドを送って移動を待つ
func (b *SerialBridge) SetServoAngle(ctx context.Context, channel, angle int, d time.Duration) error {
	if err := validateAngle(angle); err != nil {
		return err
	}
	if err := b.writeLine("V %d %d", channel, angle); err != nil {
		return err
	}
	return settle(ctx, d)
}

// Close はポートを閉じる
func (b *SerialBridge) Close() error {
	return b.port.Close()
}
