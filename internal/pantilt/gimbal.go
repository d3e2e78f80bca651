// Package pantilt はカメラ雲台の2軸サーボを操作します。
package pantilt

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"lanebot/internal/config"
	"lanebot/internal/driver"
)

// Direction は雲台の移動方向
type Direction string

const (
	Left  Direction = "left"
	Right Direction = "right"
	Up    Direction = "up"
	Down  Direction = "down"
)

// ErrUnknownDirection は未知の移動方向を示す
var ErrUnknownDirection = errors.New("未知の雲台方向です")

// ParseDirection は文字列を Direction に変換する
func ParseDirection(s string) (Direction, error) {
	d := Direction(s)
	switch d {
	case Left, Right, Up, Down:
		return d, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownDirection, s)
}

// Position は雲台の角度
type Position struct {
	Pan  int `json:"pan"`
	Tilt int `json:"tilt"`
}

// Gimbal はパン/チルトの角度を保持してサーボへ送る
type Gimbal struct {
	mu     sync.Mutex
	servos driver.Servos
	cfg    config.PanTiltConfig
	logger *zap.Logger
	pos    Position
}

// New は新しいGimbalを作成する（ホーム位置から始まる）
func New(servos driver.Servos, cfg config.PanTiltConfig, logger *zap.Logger) *Gimbal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gimbal{
		servos: servos,
		cfg:    cfg,
		logger: logger.Named("pantilt"),
		pos:    Position{Pan: cfg.HomePan, Tilt: cfg.HomeTilt},
	}
}

// Position は現在の角度を返す
func (g *Gimbal) Position() Position {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pos
}

// Nudge は1ステップだけ雲台を動かす
// 左はパンを減らし、上はチルトを増やす
func (g *Gimbal) Nudge(ctx context.Context, dir Direction) (Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := g.pos
	switch dir {
	case Left:
		next.Pan -= g.cfg.Step
	case Right:
		next.Pan += g.cfg.Step
	case Up:
		next.Tilt += g.cfg.Step
	case Down:
		next.Tilt -= g.cfg.Step
	default:
		return g.pos, fmt.Errorf("%w: %s", ErrUnknownDirection, dir)
	}
	next.Pan = lo.Clamp(next.Pan, 0, 180)
	next.Tilt = lo.Clamp(next.Tilt, 0, 180)

	return g.move(ctx, next)
}

// Center は雲台をホーム位置へ戻す
func (g *Gimbal) Center(ctx context.Context) (Position, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.move(ctx, Position{Pan: g.cfg.HomePan, Tilt: g.cfg.HomeTilt})
}

func (g *Gimbal) move(ctx context.Context, next Position) (Position, error) {
	if err := g.servos.SetServoAngle(ctx, g.cfg.PanChannel, next.Pan, g.cfg.Settle); err != nil {
		return g.pos, fmt.Errorf("パンサーボの設定に失敗: %w", err)
	}
	g.pos.Pan = next.Pan

	if err := g.servos.SetServoAngle(ctx, g.cfg.TiltChannel, next.Tilt, g.cfg.Settle); err != nil {
		return g.pos, fmt.Errorf("チルトサーボの設定に失敗: %w", err)
	}
	g.pos.Tilt = next.Tilt

	g.logger.Debug("雲台を移動", zap.Int("pan", g.pos.Pan), zap.Int("tilt", g.pos.Tilt))
	return g.pos, nil
}
