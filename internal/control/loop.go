// Package control は制御ループを実装します。
//
// 1ティックの処理は必ずこの順に逐次実行されます。
//
//	新しいフレーム → パラメータのスナップショット → レーン検出 → 操舵 → モーター → テレメトリ → ライブビュー
//
// レーンの記憶と操舵の状態はループの単一ゴルーチンだけが持ちます。
package control

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"lanebot/internal/config"
	"lanebot/internal/frame"
	"lanebot/internal/params"
	"lanebot/internal/steering"
	"lanebot/internal/vision"
)

// Actuator は左右の速度をモーターへ伝える
type Actuator interface {
	Drive(ctx context.Context, left, right int) error
	DriveArmed(ctx context.Context, armed func() bool, left, right int) error
	Stop(ctx context.Context) error
}

// Stats は制御ループの統計
type Stats struct {
	Ticks  uint64 // 処理したフレーム数
	Faults uint64 // 失敗したティック数
}

// Loop は制御ループ
type Loop struct {
	cfg      config.ControlConfig
	buffer   *frame.Buffer
	views    *frame.Views
	store    *params.Store
	detector *vision.Detector
	steer    *steering.Controller
	actuator Actuator
	clock    clock.Clock
	logger   *zap.Logger

	lastFrame time.Time

	// 1秒ごとのフレームレート
	fpsStart time.Time
	fpsCount int
	fps      int

	ticks  atomic.Uint64
	faults atomic.Uint64
}

// New は新しいLoopを作成する
func New(
	cfg config.ControlConfig,
	buffer *frame.Buffer,
	views *frame.Views,
	store *params.Store,
	actuator Actuator,
	clk clock.Clock,
	logger *zap.Logger,
) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		cfg:      cfg,
		buffer:   buffer,
		views:    views,
		store:    store,
		detector: vision.NewDetector(),
		steer:    steering.New(clk),
		actuator: actuator,
		clock:    clk,
		logger:   logger.Named("control"),
	}
}

// Stats は統計を返す
func (l *Loop) Stats() Stats {
	return Stats{Ticks: l.ticks.Load(), Faults: l.faults.Load()}
}

// Run はコンテキストがキャンセルされるまでティックを繰り返す
// 1回のティックの失敗ではループは終わらない
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("制御ループを開始")
	defer l.logger.Info("制御ループを終了")

	for ctx.Err() == nil {
		processed, err := l.safeTick(ctx)

		var pause time.Duration
		switch {
		case err != nil:
			l.faults.Add(1)
			l.logger.Error("制御ティックに失敗", zap.Error(err))
			pause = l.cfg.ErrorPause
		case !processed:
			pause = l.cfg.Idle
		default:
			continue
		}

		select {
		case <-ctx.Done():
		case <-l.clock.After(pause):
		}
	}
	return nil
}

// safeTick はティック中のパニックをエラーに変える
func (l *Loop) safeTick(ctx context.Context) (processed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("制御ティックでパニック", zap.Any("panic", r), zap.Stack("stack"))
			processed, err = true, fmt.Errorf("制御ティックでパニック: %v", r)
		}
	}()
	return l.Tick(ctx)
}

// Tick は新しいフレームがあれば1ティック分を処理する
// 新しいフレームがなければ false を返す
func (l *Loop) Tick(ctx context.Context) (bool, error) {
	f, ok := l.buffer.Newer(l.lastFrame)
	if !ok {
		return false, nil
	}
	l.lastFrame = f.Captured

	t := l.store.Snapshot()

	res, err := l.detector.Detect(f.Image, t)
	if err != nil {
		return true, fmt.Errorf("レーン検出に失敗: %w", err)
	}

	// ピークがあっても画素数が少なすぎれば線とみなさない
	valid := res.Valid && res.MaskPx >= t.MinMaskPx

	var cmd steering.Command
	if t.Auto {
		cmd = l.steer.Update(t, valid, res.CTE)
	} else {
		// 手動モードでは毎ティック制御器の記憶を消す
		l.steer.Reset()
		cmd = steering.Command{State: steering.Stopped}
	}

	l.actuate(ctx, t.Auto, cmd)

	l.ticks.Add(1)
	l.store.PublishTelemetry(params.Telemetry{
		CTE:          res.CTE,
		FPS:          l.countFrame(l.clock.Now()),
		MaskUsed:     res.Mask.String(),
		Steering:     cmd.Steer,
		MaskPx:       res.MaskPx,
		MaskWhitePx:  res.WhitePx,
		MaskYellowPx: res.YellowPx,
		Left:         cmd.Left,
		Right:        cmd.Right,
		State:        cmd.State.String(),
	})
	l.views.Publish(res.Views, f.Captured)

	return true, nil
}

// actuate はコマンドをモーターへ伝える
// ハードウェアの失敗はログに残して次のティックで再試行する
func (l *Loop) actuate(ctx context.Context, auto bool, cmd steering.Command) {
	if !auto {
		_ = l.actuator.Drive(ctx, 0, 0)
		return
	}

	if cmd.Stop {
		_ = l.actuator.Stop(ctx)
		if cmd.Disarm {
			l.store.SetAuto(false)
			l.logger.Warn("ラインを見失ったため自動走行を解除しました")
		}
		return
	}

	// ティック中に停止操作があれば走り出さない
	_ = l.actuator.DriveArmed(ctx, l.store.Auto, cmd.Left, cmd.Right)
}

// countFrame は1秒の窓でフレームを数え、直近の窓のフレームレートを返す
func (l *Loop) countFrame(now time.Time) int {
	if l.fpsStart.IsZero() {
		l.fpsStart = now
	}
	l.fpsCount++
	if now.Sub(l.fpsStart) >= time.Second {
		l.fps = l.fpsCount
		l.fpsCount = 0
		l.fpsStart = now
	}
	return l.fps
}
