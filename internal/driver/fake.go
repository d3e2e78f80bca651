package driver

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Call は Fake が受けた呼び出し
type Call struct {
	Op      string // "wheel", "stop", "servo"
	Wheel   int
	Dir     Direction
	Duty    int
	Channel int
	Angle   int
}

func (c Call) String() string {
	switch c.Op {
	case "wheel":
		return fmt.Sprintf("wheel(%d,%s,%d)", c.Wheel, c.Dir, c.Duty)
	case "servo":
		return fmt.Sprintf("servo(%d,%d)", c.Channel, c.Angle)
	default:
		return c.Op
	}
}

// Fake はハードウェアを持たない環境用のドライバ
// 呼び出しを記録するだけで何も動かさない
type Fake struct {
	mu     sync.Mutex
	calls  []Call
	err    error
	delay  time.Duration
	closed bool
}

// NewFake は新しいFakeを作成する
func NewFake() *Fake {
	return &Fake{}
}

// FailWith は以降の呼び出しが返すエラーを設定する (nilで解除)
func (f *Fake) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SetDelay は各呼び出しの所要時間を設定する
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls は記録された呼び出しのコピーを返す
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// Reset は記録を消去する
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// Closed はCloseが呼ばれたかを返す
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Fake) record(ctx context.Context, c Call) error {
	f.mu.Lock()
	delay, err := f.delay, f.err
	f.mu.Unlock()

	if delay > 0 {
		if werr := settle(ctx, delay); werr != nil {
			return werr
		}
	}
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return nil
}

// SetWheelSpeed は車輪コマンドを記録する
func (f *Fake) SetWheelSpeed(ctx context.Context, wheel int, dir Direction, duty int) error {
	if err := validateWheel(wheel); err != nil {
		return err
	}
	if err := validateDuty(duty); err != nil {
		return err
	}
	return f.record(ctx, Call{Op: "wheel", Wheel: wheel, Dir: dir, Duty: duty})
}

// StopAll は停止を記録する
func (f *Fake) StopAll(ctx context.Context) error {
	return f.record(ctx, Call{Op: "stop"})
}

// SetServoAngle はサーボコマンドを記録する（待機はしない）
func (f *Fake) SetServoAngle(ctx context.Context, channel, angle int, _ time.Duration) error {
	if err := validateAngle(angle); err != nil {
		return err
	}
	return f.record(ctx, Call{Op: "servo", Channel: channel, Angle: angle})
}

// Close はクローズを記録する
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
