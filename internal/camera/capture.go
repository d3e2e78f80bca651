package camera

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// JPEGの開始・終了マーカー
var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// readJPEGStream はMJPEGのバイト列をJPEG 1枚ずつに分割して emit に渡す
// r が EOF になると nil を返す
func readJPEGStream(r io.Reader, emit func([]byte) error) error {
	chunk := make([]byte, 64*1024)
	var pending bytes.Buffer

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			pending.Write(chunk[:n])
			if emitErr := drainJPEG(&pending, emit); emitErr != nil {
				return emitErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return fmt.Errorf("フレーム読み取りエラー: %w", err)
		}
	}
}

// drainJPEG は pending から完全なフレームを取り出せるだけ取り出す
func drainJPEG(pending *bytes.Buffer, emit func([]byte) error) error {
	for {
		data := pending.Bytes()

		start := bytes.Index(data, jpegSOI)
		if start == -1 {
			// マーカーの1バイト目だけ届いている場合は残す
			keep := len(data) > 0 && data[len(data)-1] == 0xFF
			pending.Reset()
			if keep {
				pending.WriteByte(0xFF)
			}
			return nil
		}

		end := bytes.Index(data[start+len(jpegSOI):], jpegEOI)
		if end == -1 {
			// 完全なフレームがまだない
			if start > 0 {
				rest := append([]byte(nil), data[start:]...)
				pending.Reset()
				pending.Write(rest)
			}
			return nil
		}
		end += start + len(jpegSOI) + len(jpegEOI)

		frame := make([]byte, end-start)
		copy(frame, data[start:end])
		pending.Next(end)

		if err := emit(frame); err != nil {
			return err
		}
	}
}
