package camera

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// 合成映像の見た目
var (
	syntheticFloor = color.RGBA{R: 40, G: 40, B: 40, A: 255}
	syntheticLine  = color.RGBA{R: 250, G: 250, B: 250, A: 255}
)

const (
	syntheticLineWidth = 6
	syntheticDrift     = 30.0 // 左右の揺れ幅 (px)
	syntheticPeriod    = 120  // 揺れの周期 (フレーム)
)

// SyntheticSource は白線2本のレーンが左右に揺れる映像を生成する
type SyntheticSource struct {
	width, height int
	interval      time.Duration
	clock         clock.Clock

	mu     sync.Mutex
	seq    int
	next   time.Time
	closed bool
}

// NewSyntheticSource は合成ソースを作成する
// fps が 0 以下なら待たずに次のフレームを返す
func NewSyntheticSource(width, height, fps int, clk clock.Clock) *SyntheticSource {
	if clk == nil {
		clk = clock.New()
	}
	var interval time.Duration
	if fps > 0 {
		interval = time.Second / time.Duration(fps)
	}
	return &SyntheticSource{
		width:    width,
		height:   height,
		interval: interval,
		clock:    clk,
	}
}

// Capture は次のフレーム時刻まで待って1枚描く
func (s *SyntheticSource) Capture(ctx context.Context) (*image.RGBA, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	wait := s.next.Sub(s.clock.Now())
	seq := s.seq
	s.seq++
	s.mu.Unlock()

	if s.interval > 0 && wait > 0 {
		timer := s.clock.Timer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	s.mu.Lock()
	s.next = s.clock.Now().Add(s.interval)
	s.mu.Unlock()

	return s.draw(seq), nil
}

// LaneCenter は seq 番目のフレームのレーン中心 (x) を返す
func (s *SyntheticSource) LaneCenter(seq int) int {
	phase := 2 * math.Pi * float64(seq%syntheticPeriod) / syntheticPeriod
	return s.width/2 + int(math.Round(syntheticDrift*math.Sin(phase)))
}

func (s *SyntheticSource) draw(seq int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: syntheticFloor}, image.Point{}, draw.Src)

	center := s.LaneCenter(seq)
	half := s.width / 4
	for _, x := range []int{center - half, center + half} {
		line := image.Rect(x-syntheticLineWidth/2, 0, x+syntheticLineWidth/2, s.height)
		draw.Draw(img, line.Intersect(img.Bounds()), &image.Uniform{C: syntheticLine}, image.Point{}, draw.Src)
	}
	return img
}

// Close は以降の取得を止める
func (s *SyntheticSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
