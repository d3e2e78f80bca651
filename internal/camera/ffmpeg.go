package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/zap"

	"lanebot/internal/frame"
)

// FFmpegSource は ffmpeg でV4L2デバイスをMJPEGとして読み込む
type FFmpegSource struct {
	logger *zap.Logger
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	latest *image.RGBA
	err    error
	ready  chan struct{} // 新しいフレームの通知（容量1）
	done   chan struct{}

	closeOnce sync.Once
}

// NewFFmpegSource は ffmpeg プロセスを起動してフレームの読み込みを始める
func NewFFmpegSource(device string, width, height, fps int, logger *zap.Logger) *FFmpegSource {
	if logger == nil {
		logger = zap.NewNop()
	}

	input := ffmpeg.KwArgs{
		"f":          "v4l2",
		"video_size": fmt.Sprintf("%dx%d", width, height),
		"framerate":  fps,
	}
	output := ffmpeg.KwArgs{
		"f":   "image2pipe",
		"c:v": "mjpeg",
		"q:v": 3,
	}
	return newFFmpegSource(func(ctx context.Context, w io.Writer) error {
		stream := ffmpeg.Input(device, input).Output("pipe:", output)
		stream.Context = ctx
		return stream.WithOutput(w).Run()
	}, logger)
}

// newFFmpegSource は run の出力をMJPEGとして読み込む
func newFFmpegSource(run func(ctx context.Context, w io.Writer) error, logger *zap.Logger) *FFmpegSource {
	ctx, cancel := context.WithCancel(context.Background())
	s := &FFmpegSource{
		logger: logger.Named("ffmpeg"),
		cancel: cancel,
		ready:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	pr, pw := io.Pipe()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := run(ctx, pw); err != nil && ctx.Err() == nil {
			s.fail(fmt.Errorf("ffmpegの実行に失敗: %w", err))
		}
		_ = pw.CloseWithError(io.EOF)
	}()

	go func() {
		defer s.wg.Done()
		defer close(s.done)
		err := readJPEGStream(pr, s.store)
		_ = pr.Close()
		if err != nil {
			s.fail(err)
		}
	}()

	return s
}

// store はJPEGをデコードして最新フレームとして保持する
func (s *FFmpegSource) store(data []byte) error {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		// 壊れたフレームは読み飛ばす
		s.logger.Debug("JPEGのデコードに失敗", zap.Error(err))
		return nil
	}

	s.mu.Lock()
	s.latest = frame.ToRGBA(img)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
	return nil
}

func (s *FFmpegSource) fail(err error) {
	s.logger.Warn("ffmpegソースが停止しました", zap.Error(err))
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

// Capture は前回以降に届いたフレームを返す
func (s *FFmpegSource) Capture(ctx context.Context) (*image.RGBA, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ready:
		s.mu.Lock()
		defer s.mu.Unlock()
		img := s.latest
		s.latest = nil
		return img, nil
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return nil, s.err
		}
		return nil, ErrClosed
	}
}

// Close は ffmpeg を止めて読み込みの終了を待つ
func (s *FFmpegSource) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
	return nil
}
