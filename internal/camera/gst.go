package camera

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"
)

// appsink の要素名
const gstSinkName = "sink"

// GstPipeline はV4L2デバイスからRGBAを appsink に流すパイプラインを返す
// appsink は最新1枚だけを保持し、古いフレームは捨てる
func GstPipeline(device string, width, height, fps int) string {
	return fmt.Sprintf(
		"v4l2src device=%s ! videoconvert ! videoscale ! videorate ! "+
			"video/x-raw,format=RGBA,width=%d,height=%d,framerate=%d/1 ! "+
			"appsink name=%s sync=false max-buffers=1 drop=true",
		device, width, height, fps, gstSinkName,
	)
}

// GstSource は GStreamer パイプラインの appsink からフレームを取り出す
type GstSource struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	width    int
	height   int

	mu     sync.Mutex
	closed bool
}

// NewGstSource はパイプラインを組み立てて再生を始める
// パイプラインには name=sink の appsink が必要
func NewGstSource(description string, width, height int) (*GstSource, error) {
	gst.Init(nil)

	pipeline, err := gst.NewPipelineFromString(description)
	if err != nil {
		return nil, fmt.Errorf("パイプラインの作成に失敗: %w", err)
	}

	elem, err := pipeline.GetElementByName(gstSinkName)
	if err != nil {
		return nil, fmt.Errorf("appsinkが見つかりません: %w", err)
	}

	s := &GstSource{
		pipeline: pipeline,
		sink:     app.SinkFromElement(elem),
		width:    width,
		height:   height,
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("パイプラインの開始に失敗: %w", err)
	}
	return s, nil
}

// Capture は appsink から1枚取り出す（届くまでブロックする）
func (s *GstSource) Capture(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	sample := s.sink.PullSample()
	if sample == nil {
		if s.sink.IsEOS() {
			return nil, ErrClosed
		}
		return nil, nil
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, nil
	}

	mapInfo := buffer.Map(gst.MapRead)
	defer buffer.Unmap()

	data := mapInfo.Bytes()
	size := s.width * s.height * 4
	if len(data) < size {
		return nil, fmt.Errorf("フレームサイズが不正です: %d < %d", len(data), size)
	}

	// GStreamer はバッファを再利用するためコピーする
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	copy(img.Pix, data[:size])
	return img, nil
}

// Close はパイプラインを停止する
// ブロック中の Capture は nil を受け取って戻る
func (s *GstSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.pipeline.SetState(gst.StateNull); err != nil {
		return fmt.Errorf("パイプラインの停止に失敗: %w", err)
	}
	return nil
}
