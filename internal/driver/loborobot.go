package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"lanebot/internal/config"
)

// motorChannels は1つのモーターのPWMと方向チャンネル
type motorChannels struct {
	pwm      int
	in1, in2 int
	inverted bool // 配線が逆向きのモーター
}

// 4輪のチャンネル割り当て（右後輪の方向はGPIO）
var loborobotMotors = [WheelCount]motorChannels{
	WheelLeftFront:  {pwm: 0, in1: 2, in2: 1, inverted: true},
	WheelRightFront: {pwm: 5, in1: 3, in2: 4},
	WheelLeftRear:   {pwm: 6, in1: 8, in2: 7},
	WheelRightRear:  {pwm: 11, in1: -1, in2: -1},
}

// 停止時に解放する雲台サーボのチャンネル
var loborobotServoChannels = []int{9, 10}

// levelPin は出力レベルを設定できるピン
type levelPin interface {
	Out(l gpio.Level) error
}

// Loborobot はPCA9685とGPIOで4輪を駆動する拡張ボード
type Loborobot struct {
	mu     sync.Mutex
	pwm    *PCA9685
	dirD1  levelPin
	dirD2  levelPin
	closer func() error
}

// OpenLoborobot はI2CバスとGPIOを開いてボードを初期化する
func OpenLoborobot(cfg config.DriverConfig) (*Loborobot, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periphの初期化に失敗: %w", err)
	}

	bus, err := i2creg.Open(cfg.I2CBus)
	if err != nil {
		return nil, fmt.Errorf("I2Cバスのオープンに失敗: %w", err)
	}

	if len(cfg.DirPins) != 2 {
		_ = bus.Close()
		return nil, fmt.Errorf("方向ピンは2本必要です: %v", cfg.DirPins)
	}
	d1 := gpioreg.ByName(cfg.DirPins[0])
	d2 := gpioreg.ByName(cfg.DirPins[1])
	if d1 == nil || d2 == nil {
		_ = bus.Close()
		return nil, fmt.Errorf("GPIOピンが見つかりません: %v", cfg.DirPins)
	}

	pwm, err := NewPCA9685(&i2c.Dev{Bus: bus, Addr: cfg.I2CAddress})
	if err != nil {
		_ = bus.Close()
		return nil, err
	}

	board, err := NewLoborobot(pwm, d1, d2, cfg.PWMFrequency)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	board.closer = bus.Close
	return board, nil
}

// NewLoborobot は初期化済みのPCA9685と方向ピンからボードを作成する
func NewLoborobot(pwm *PCA9685, dirD1, dirD2 levelPin, freq int) (*Loborobot, error) {
	if err := pwm.SetFrequency(freq); err != nil {
		return nil, err
	}
	return &Loborobot{pwm: pwm, dirD1: dirD1, dirD2: dirD2}, nil
}

// SetWheelSpeed は1つの車輪の方向とデューティ比を設定する
func (b *Loborobot) SetWheelSpeed(ctx context.Context, wheel int, dir Direction, duty int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateWheel(wheel); err != nil {
		return err
	}
	if err := validateDuty(duty); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	m := loborobotMotors[wheel]
	if err := b.pwm.SetDutyCycle(m.pwm, duty); err != nil {
		return err
	}

	forward := dir == Forward
	if wheel == WheelRightRear {
		// 前進は D1=Low, D2=High
		return multierr.Combine(
			b.dirD1.Out(gpio.Level(!forward)),
			b.dirD2.Out(gpio.Level(forward)),
		)
	}

	if m.inverted {
		forward = !forward
	}
	if err := b.pwm.SetLevel(m.in1, forward); err != nil {
		return err
	}
	return b.pwm.SetLevel(m.in2, !forward)
}

// StopAll は全モーターを止め、雲台サーボの保持も解除する
func (b *Loborobot) StopAll(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	for _, m := range loborobotMotors {
		err = multierr.Append(err, b.pwm.SetDutyCycle(m.pwm, 0))
	}
	for _, ch := range loborobotServoChannels {
		err = multierr.Append(err, b.pwm.SetPWM(ch, 0, 0))
	}
	return err
}

// SetServoAngle はサーボの角度を設定して移動を待つ
func (b *Loborobot) SetServoAngle(ctx context.Context, channel, angle int, d time.Duration) error {
	if err := validateAngle(angle); err != nil {
		return err
	}

	b.mu.Lock()
	err := b.pwm.SetServoAngle(channel, angle)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	return settle(ctx, d)
}

// Close はI2Cバスを閉じる
func (b *Loborobot) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}
