package driver

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/socketcan"
)

// CANノード上のフレームIDは baseID からのオフセット
const (
	canStopOffset  = 0x10
	canServoOffset = 0x20
)

// frameTransmitter はCANフレームの送信
type frameTransmitter interface {
	TransmitFrame(ctx context.Context, frame can.Frame) error
}

// CANBus はCANバス上のモーターノードを駆動する
//
// 車輪コマンド: ID=baseID+車輪番号, data=[方向, デューティ]
// 全停止:       ID=baseID+0x10, data=[]
// サーボ:       ID=baseID+0x20, data=[チャンネル, 角度]
type CANBus struct {
	tx     frameTransmitter
	conn   io.Closer
	baseID uint32
}

// OpenCAN はSocketCANインターフェースを開く
func OpenCAN(ctx context.Context, iface string, baseID uint32) (*CANBus, error) {
	conn, err := socketcan.DialContext(ctx, "can", iface)
	if err != nil {
		return nil, fmt.Errorf("CANインターフェース %s のオープンに失敗: %w", iface, err)
	}
	return &CANBus{
		tx:     socketcan.NewTransmitter(conn),
		conn:   conn,
		baseID: baseID,
	}, nil
}

// NewCANBus は送信器からCANBusを作成する
func NewCANBus(tx frameTransmitter, baseID uint32) *CANBus {
	return &CANBus{tx: tx, baseID: baseID}
}

func (b *CANBus) send(ctx context.Context, id uint32, payload ...byte) error {
	frame := can.Frame{ID: id, Length: uint8(len(payload))}
	copy(frame.Data[:], payload)
	if err := b.tx.TransmitFrame(ctx, frame); err != nil {
		return fmt.Errorf("CANフレーム 0x%X の送信に失敗: %w", id, err)
	}
	return nil
}

// SetWheelSpeed は車輪コマンドを送信する
func (b *CANBus) SetWheelSpeed(ctx context.Context, wheel int, dir Direction, duty int) error {
	if err := validateWheel(wheel); err != nil {
		return err
	}
	if err := validateDuty(duty); err != nil {
		return err
	}
	return b.send(ctx, b.baseID+uint32(wheel), byte(dir), byte(duty))
}

// StopAll は全停止フレームを送信する
func (b *CANBus) StopAll(ctx context.Context) error {
	return b.send(ctx, b.baseID+canStopOffset)
}

// SetServoAngle はサーボコマンドを送信して移動を待つ
func (b *CANBus) SetServoAngle(ctx context.Context, channel, angle int, d time.Duration) error {
	if err := validateAngle(angle); err != nil {
		return err
	}
	if err := b.send(ctx, b.baseID+canServoOffset, byte(channel), byte(angle)); err != nil {
		return err
	}
	return settle(ctx, d)
}

// Close はCAN接続を閉じる
func (b *CANBus) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}
