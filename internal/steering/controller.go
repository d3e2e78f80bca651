// Package steering はレーン誤差から左右の速度を決めるPD制御と、
// 線を見失った時の惰性走行・停止の状態機械を実装します。
package steering

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/samber/lo"

	"lanebot/internal/params"
)

// State は制御器の状態
type State int

const (
	Stopped State = iota
	Tracking
	Coasting
)

func (s State) String() string {
	switch s {
	case Tracking:
		return "tracking"
	case Coasting:
		return "coasting"
	default:
		return "stopped"
	}
}

const (
	deadband     = 2.0 // これ未満の誤差は0とみなす
	blendRaw     = 0.6 // 今回の舵角の重み
	blendHistory = 0.4 // 前回の舵角の重み
)

// Command は1ティック分の出力
type Command struct {
	Left  int
	Right int
	Steer float64
	State State

	// Stop は左右を0にするだけでなくハードウェアの停止を要求する
	Stop bool
	// Disarm は自動走行モードを解除すべきことを示す（外部から再開するまで止まる）
	Disarm bool
}

// Controller はPD制御の状態を保持する
// 制御ループの単一ゴルーチンからだけ使う
type Controller struct {
	clock clock.Clock

	state       State
	lastError   float64
	lastSteer   float64
	firstSample bool
	lostSince   time.Time
	tracking    bool
}

// New は新しいControllerを作成する
func New(clk clock.Clock) *Controller {
	if clk == nil {
		clk = clock.New()
	}
	return &Controller{clock: clk, firstSample: true}
}

// State は現在の状態を返す
func (c *Controller) State() State {
	return c.state
}

// Reset は停止状態に戻す（前回の舵角だけは残す）
func (c *Controller) Reset() {
	c.state = Stopped
	c.firstSample = true
	c.lastError = 0
	c.lostSince = time.Time{}
	c.tracking = false
}

// Update は誤差から次の出力を計算する
// valid が false の場合 cte は使わない
func (c *Controller) Update(t params.Tuning, valid bool, cte float64) Command {
	if !valid {
		return c.lost(t)
	}
	return c.track(t, cte)
}

func (c *Controller) track(t params.Tuning, cte float64) Command {
	limit := math.Max(t.SteerLimit, 0)

	err := cte
	if math.Abs(err) < deadband {
		err = 0
	}

	// 追従を始めた最初のサンプルでは微分項を0にする
	if c.firstSample {
		c.lastError = err
		c.firstSample = false
	}
	derr := err - c.lastError
	c.lastError = err

	raw := lo.Clamp((t.Kp*err+t.Kd*derr)*t.SteerGain, -limit, limit)
	// 上限が途中で下げられても前回の舵角を持ち越して超えない
	steer := lo.Clamp(blendRaw*raw+blendHistory*c.lastSteer, -limit, limit)

	scale := 1.0
	if limit > 0 {
		scale = 1 - t.CurveSlow*math.Min(1, math.Abs(steer)/limit)
	}
	base := lo.Clamp(t.SpeedBase*scale, 0, 100)

	c.lostSince = time.Time{}
	c.tracking = true
	c.lastSteer = steer
	c.state = Tracking

	left, right := split(base, steer)
	return Command{Left: left, Right: right, Steer: steer, State: Tracking}
}

func (c *Controller) lost(t params.Tuning) Command {
	c.firstSample = true

	if c.tracking {
		now := c.clock.Now()
		if c.lostSince.IsZero() {
			c.lostSince = now
		}
		if now.Sub(c.lostSince) <= t.LostTimeout {
			limit := math.Max(t.SteerLimit, 0)
			base := lo.Clamp(t.SpeedBase*t.CoastFactor, 0, 100)
			steer := lo.Clamp(c.lastSteer, -limit, limit)
			c.state = Coasting

			left, right := split(base, steer)
			return Command{Left: left, Right: right, Steer: steer, State: Coasting}
		}
	}

	// 追従していなかった、または惰性走行の時間切れ
	c.Reset()
	return Command{State: Stopped, Stop: true, Disarm: true}
}

// split は基準速度と舵角から左右の速度を求める（0-100に丸めて切り捨て）
func split(base, steer float64) (left, right int) {
	left = int(lo.Clamp(base-steer, 0, 100))
	right = int(lo.Clamp(base+steer, 0, 100))
	return left, right
}
