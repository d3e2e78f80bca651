package server

import (
	"bytes"
	"image"
	"image/jpeg"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lanebot/internal/frame"
)

const jpegQuality = 80

// handleLiveView は指定されたビューをMJPEGで配信する
// 未知のビュー名はカメラ映像として扱う
func (s *Server) handleLiveView(c *gin.Context) {
	view := c.DefaultQuery("m", frame.ViewCamera)
	if !frame.IsView(view) {
		view = frame.ViewCamera
	}
	s.streamMJPEG(c, view)
}

// latestView はビューを取り出す
// 制御ループがまだ動いていなければカメラの最新フレームを使う
func (s *Server) latestView(view string) (image.Image, time.Time, bool) {
	if img, at, ok := s.deps.Views.Get(view); ok {
		return img, at, true
	}
	if img, at, ok := s.deps.Views.Get(frame.ViewCamera); ok {
		return img, at, true
	}
	if f, ok := s.deps.Buffer.Latest(); ok {
		return f.Image, f.Captured, true
	}
	return nil, time.Time{}, false
}

// streamMJPEG はMJPEGストリームを配信する
func (s *Server) streamMJPEG(c *gin.Context, view string) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	ticker := time.NewTicker(s.config.Control.ViewInterval)
	defer ticker.Stop()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	var (
		encoded  []byte
		lastSeen time.Time
	)

	// ストリーミングループ
	for {
		img, at, ok := s.latestView(view)
		if ok && (encoded == nil || !at.Equal(lastSeen)) {
			var buf bytes.Buffer
			if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
				s.logger.Warn("ライブビューのエンコードに失敗", zap.String("view", view), zap.Error(err))
			} else {
				encoded = buf.Bytes()
				lastSeen = at
			}
		}

		// 同じフレームでも間隔ごとに送り直す
		if encoded != nil {
			if err := writePart(writer, encoded); err != nil {
				return
			}
			flusher.Flush()
		}

		select {
		case <-clientGone:
			return
		case <-ticker.C:
		}
	}
}

// writePart はMJPEGの1フレームを書き込む
func writePart(w http.ResponseWriter, jpg []byte) error {
	if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
		return err
	}
	if _, err := w.Write(jpg); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
