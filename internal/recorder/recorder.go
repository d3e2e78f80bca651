// Package recorder はカメラ映像を動画ファイルへ録画します。
//
// 録画するのは反転済みの生のカメラ映像だけで、マスクなどの処理済み映像は含みません。
// フレームは frame.Buffer の最新を録画用のフレームレートで取り出します。
package recorder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"lanebot/internal/config"
	"lanebot/internal/frame"
)

var (
	// ErrNotRecording は録画中でないことを示す
	ErrNotRecording = errors.New("録画していません")
	// ErrNoFrame はまだカメラ映像が届いていないことを示す
	ErrNoFrame = errors.New("カメラ映像がありません")
)

// Session は1回分の録画
type Session struct {
	ID      string    `json:"id"`
	Path    string    `json:"path"`
	Started time.Time `json:"started"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Frames  uint64    `json:"frames"`
}

type session struct {
	Session
	frames atomic.Uint64
	cancel context.CancelFunc
	done   chan error
}

func (s *session) snapshot() Session {
	out := s.Session
	out.Frames = s.frames.Load()
	return out
}

// Recorder は録画の開始と停止を管理する
type Recorder struct {
	cfg     config.RecordingConfig
	buffer  *frame.Buffer
	encoder EncoderFactory
	clock   clock.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	active *session
}

// New は新しいRecorderを作成する
func New(cfg config.RecordingConfig, buffer *frame.Buffer, encoder EncoderFactory, clk clock.Clock, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		cfg:     cfg,
		buffer:  buffer,
		encoder: encoder,
		clock:   clk,
		logger:  logger.Named("recorder"),
	}
}

// Active は録画中かどうかを返す
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// Current は録画中のセッションを返す
func (r *Recorder) Current() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return Session{}, false
	}
	return r.active.snapshot(), true
}

// Toggle は録画中なら停止し、停止中なら開始する
// 戻り値は切り替え後に録画中かどうか
func (r *Recorder) Toggle(ctx context.Context) (bool, error) {
	if r.Active() {
		if _, err := r.Stop(); err != nil && !errors.Is(err, ErrNotRecording) {
			return false, err
		}
		return false, nil
	}

	if _, err := r.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Start は新しい録画を始める
// 録画はリクエストのキャンセルでは止まらず、Stop か Close で止まる
func (r *Recorder) Start(ctx context.Context) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return r.active.snapshot(), nil
	}

	latest, ok := r.buffer.Latest()
	if !ok {
		return Session{}, ErrNoFrame
	}
	size := latest.Image.Bounds().Size()

	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return Session{}, fmt.Errorf("録画ディレクトリの作成に失敗: %w", err)
	}

	started := r.clock.Now()
	path := filepath.Join(r.cfg.Dir, r.cfg.Prefix+started.Format("20060102_150405")+".avi")

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	enc, err := r.encoder(sctx, path, size.X, size.Y, r.cfg.FPS)
	if err != nil {
		cancel()
		return Session{}, fmt.Errorf("エンコーダの起動に失敗: %w", err)
	}

	s := &session{
		Session: Session{
			ID:      uuid.New().String(),
			Path:    path,
			Started: started,
			Width:   size.X,
			Height:  size.Y,
		},
		cancel: cancel,
		done:   make(chan error, 1),
	}
	r.active = s

	go r.loop(sctx, s, enc)

	r.logger.Info("録画を開始",
		zap.String("session", s.ID),
		zap.String("path", path),
		zap.Int("width", size.X),
		zap.Int("height", size.Y),
		zap.Int("fps", r.cfg.FPS),
	)
	return s.snapshot(), nil
}

// Stop は録画を止めてファイルを閉じる
func (r *Recorder) Stop() (Session, error) {
	r.mu.Lock()
	s := r.active
	r.active = nil
	r.mu.Unlock()

	if s == nil {
		return Session{}, ErrNotRecording
	}

	s.cancel()
	err := <-s.done
	result := s.snapshot()

	r.logger.Info("録画を停止",
		zap.String("session", result.ID),
		zap.String("path", result.Path),
		zap.Uint64("frames", result.Frames),
		zap.Error(err),
	)
	return result, err
}

// Close は録画中なら停止する
func (r *Recorder) Close() error {
	_, err := r.Stop()
	if errors.Is(err, ErrNotRecording) {
		return nil
	}
	return err
}

// loop は録画のフレームレートで最新フレームをエンコーダへ書き込む
// 書き込みに失敗したら録画を打ち切る
func (r *Recorder) loop(ctx context.Context, s *session, enc io.WriteCloser) {
	ticker := r.clock.Ticker(time.Second / time.Duration(r.cfg.FPS))
	defer ticker.Stop()

	var (
		buf      []byte
		lastAt   time.Time
		writeErr error
	)

	for writeErr == nil {
		select {
		case <-ctx.Done():
			s.done <- enc.Close()
			return
		case <-ticker.C:
		}

		f, ok := r.buffer.Latest()
		if !ok {
			continue
		}
		lastAt = f.Captured

		img := f.Image
		if b := img.Bounds(); b.Dx() != s.Width || b.Dy() != s.Height {
			img = fitRGBA(img, s.Width, s.Height)
		}

		buf = rgb24(img, buf)
		if _, err := enc.Write(buf); err != nil {
			writeErr = err
			continue
		}
		s.frames.Add(1)
	}

	r.logger.Error("録画フレームの書き込みに失敗",
		zap.String("session", s.ID),
		zap.Time("frame_at", lastAt),
		zap.Error(writeErr),
	)

	r.mu.Lock()
	if r.active == s {
		r.active = nil
	}
	r.mu.Unlock()

	closeErr := enc.Close()
	if closeErr == nil {
		closeErr = writeErr
	}
	s.done <- closeErr
}

// fitRGBA は録画サイズと異なるフレームを合わせる
func fitRGBA(img *image.RGBA, width, height int) *image.RGBA {
	n := imaging.Resize(img, width, height, imaging.Linear)
	return &image.RGBA{Pix: n.Pix, Stride: n.Stride, Rect: n.Rect}
}
