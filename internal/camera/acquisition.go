package camera

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"lanebot/internal/frame"
)

// Transform は取り付け向きに合わせた画像の反転
type Transform struct {
	HFlip bool
	VFlip bool
}

// Apply は設定された反転を行う
func (t Transform) Apply(img *image.RGBA) *image.RGBA {
	if !t.HFlip && !t.VFlip {
		return img
	}

	var out image.Image = img
	if t.HFlip {
		out = imaging.FlipH(out)
	}
	if t.VFlip {
		out = imaging.FlipV(out)
	}

	// カメラ画像は不透明なので NRGBA と RGBA のピクセル表現は同じ
	n := out.(*image.NRGBA)
	return &image.RGBA{Pix: n.Pix, Stride: n.Stride, Rect: n.Rect}
}

// Acquisition はカメラから取り込んだフレームを Buffer へ公開し続ける
type Acquisition struct {
	source    Source
	buffer    *frame.Buffer
	transform Transform
	clock     clock.Clock
	logger    *zap.Logger

	// RetryPause は取得エラー後の待機
	RetryPause time.Duration

	frames atomic.Uint64
	misses atomic.Uint64
}

// NewAcquisition は新しいAcquisitionを作成する
func NewAcquisition(source Source, buffer *frame.Buffer, transform Transform, clk clock.Clock, logger *zap.Logger) *Acquisition {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Acquisition{
		source:     source,
		buffer:     buffer,
		transform:  transform,
		clock:      clk,
		logger:     logger.Named("camera"),
		RetryPause: 100 * time.Millisecond,
	}
}

// Stats は公開したフレーム数と取り逃し数を返す
func (a *Acquisition) Stats() (frames, misses uint64) {
	return a.frames.Load(), a.misses.Load()
}

// Run はコンテキストがキャンセルされるまでフレームを取り込む
// キャンセル時にはソースを閉じてブロック中の取得を解除する
// 戻る時にはソースは閉じられている
func (a *Acquisition) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		_ = a.source.Close()
	})
	defer func() {
		stop()
		_ = a.source.Close()
	}()

	a.logger.Info("フレーム取得を開始")
	defer a.logger.Info("フレーム取得を終了")

	for ctx.Err() == nil {
		img, err := a.source.Capture(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			n := a.misses.Add(1)
			// 連続失敗でログが溢れないよう間引く
			if n == 1 || n%100 == 0 {
				a.logger.Debug("フレーム取得に失敗", zap.Uint64("misses", n), zap.Error(err))
			}
			if errors.Is(err, ErrClosed) {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-a.clock.After(a.RetryPause):
			}
			continue
		}
		if img == nil {
			a.misses.Add(1)
			continue
		}

		a.buffer.Publish(a.transform.Apply(img), a.clock.Now())
		a.frames.Add(1)
	}
	return nil
}
