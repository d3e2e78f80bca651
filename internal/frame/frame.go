// Package frame はカメラフレームと処理済み映像の受け渡しを担当します。
//
// Buffer は最新フレーム1枚だけを保持する単一スロットで、取得側と制御側は
// ロックを保持している間にコピーを入れ替えるだけです。
package frame

import (
	"image"
	"image/draw"
	"sync"
	"time"
)

// Frame はカメラ画像と取得時刻
type Frame struct {
	Image    *image.RGBA
	Captured time.Time
}

// Clone はピクセルを含めて複製する
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return &Frame{Image: CloneRGBA(f.Image), Captured: f.Captured}
}

// CloneRGBA はRGBA画像を複製する
func CloneRGBA(src *image.RGBA) *image.RGBA {
	if src == nil {
		return nil
	}
	dst := &image.RGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}

// ToRGBA は任意の画像をRGBAに変換する（既にRGBAなら複製）
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return CloneRGBA(rgba)
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// Buffer は最新フレームを1枚だけ保持する
type Buffer struct {
	mu    sync.Mutex
	frame *Frame
}

// NewBuffer は空のBufferを作成する
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Publish は新しいフレームで上書きする（未読のフレームは捨てる）
// img の所有権は Buffer に移る
func (b *Buffer) Publish(img *image.RGBA, at time.Time) {
	f := &Frame{Image: img, Captured: at}

	b.mu.Lock()
	b.frame = f
	b.mu.Unlock()
}

// Latest は最新フレームのコピーを返す
func (b *Buffer) Latest() (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frame == nil {
		return nil, false
	}
	return b.frame.Clone(), true
}

// Newer は after より新しいフレームがあればコピーを返す
func (b *Buffer) Newer(after time.Time) (*Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.frame == nil || !b.frame.Captured.After(after) {
		return nil, false
	}
	return b.frame.Clone(), true
}
