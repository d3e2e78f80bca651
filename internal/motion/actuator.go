// Package motion は左右の速度指令を車輪ドライバへ伝えます。
//
// Actuator は直前に送った左右の組を覚えておき、同じ指令の再送を省きます。
// 停止は常に送られ、それより前に出してまだ書き込まれていない車輪指令は捨てられます。
package motion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"lanebot/internal/driver"
)

// ErrTimeout はドライバ呼び出しが時間内に終わらなかったことを示す
var ErrTimeout = errors.New("ドライバ呼び出しがタイムアウトしました")

var errStopped = errors.New("停止指令により中断")

// Actuator は左右の速度をモーターへ伝える
type Actuator struct {
	mu      sync.Mutex
	motors  driver.Motors
	timeout time.Duration
	logger  *zap.Logger

	last *[2]int // 直前に成功した (left, right)

	// bus はドライバへの書き込みを1つずつに並べる
	bus sync.Mutex
	// gen は Stop のたびに進み、古いDriveの残りの書き込みを止める
	gen atomic.Uint64
}

// NewActuator は新しいActuatorを作成する
func NewActuator(motors driver.Motors, timeout time.Duration, logger *zap.Logger) *Actuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Actuator{
		motors:  motors,
		timeout: timeout,
		logger:  logger.Named("motion"),
	}
}

// Drive は左右の速度 (0-100) を前進方向で設定する
// 直前と同じ組なら何もしない
func (a *Actuator) Drive(ctx context.Context, left, right int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.drive(ctx, left, right)
}

// DriveArmed は armed が true を返す間だけ Drive する
// armed は Stop と同じロックの下で評価される
func (a *Actuator) DriveArmed(ctx context.Context, armed func() bool, left, right int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !armed() {
		return nil
	}
	return a.drive(ctx, left, right)
}

func (a *Actuator) drive(ctx context.Context, left, right int) error {
	if a.last != nil && a.last[0] == left && a.last[1] == right {
		return nil
	}

	gen := a.gen.Load()
	err := a.call(ctx, func(ctx context.Context) error {
		for _, w := range []struct{ wheel, duty int }{
			{driver.WheelLeftFront, left},
			{driver.WheelRightFront, right},
			{driver.WheelLeftRear, left},
			{driver.WheelRightRear, right},
		} {
			if err := a.writeWheel(ctx, gen, w.wheel, w.duty); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		a.logger.Warn("モーター速度の設定に失敗", zap.Int("left", left), zap.Int("right", right), zap.Error(err))
		return fmt.Errorf("モーター速度の設定に失敗: %w", err)
	}

	a.last = &[2]int{left, right}
	return nil
}

// Stop は全モーターを止める
// 記憶している組は消去し、次のDriveは必ず送られる
func (a *Actuator) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.last = nil
	a.gen.Add(1)
	err := a.call(ctx, func(ctx context.Context) error {
		a.bus.Lock()
		defer a.bus.Unlock()
		// 書き込み中の車輪指令が終わるのを待ってから必ず送る
		return a.motors.StopAll(context.WithoutCancel(ctx))
	})
	if err != nil {
		a.logger.Warn("モーター停止に失敗", zap.Error(err))
		return fmt.Errorf("モーター停止に失敗: %w", err)
	}
	return nil
}

// writeWheel は Stop が割り込んでいなければ1つの車輪へ書き込む
func (a *Actuator) writeWheel(ctx context.Context, gen uint64, wheel, duty int) error {
	a.bus.Lock()
	defer a.bus.Unlock()

	if a.gen.Load() != gen {
		return errStopped
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return a.motors.SetWheelSpeed(ctx, wheel, driver.Forward, duty)
}

// Last は直前に送った左右の速度を返す
func (a *Actuator) Last() (left, right int, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.last == nil {
		return 0, 0, false
	}
	return a.last[0], a.last[1], true
}

// call はドライバ呼び出しを timeout で打ち切る
// ドライバがコンテキストを無視しても呼び出し側は待たされない
func (a *Actuator) call(ctx context.Context, fn func(context.Context) error) error {
	if a.timeout <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if errors.Is(err, context.DeadlineExceeded) {
			return ErrTimeout
		}
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ErrTimeout
		}
		return ctx.Err()
	}
}
