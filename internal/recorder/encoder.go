package recorder

import (
	"context"
	"fmt"
	"image"
	"io"

	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// EncoderFactory は生の rgb24 フレームを受け取って path へ動画を書き出すエンコーダを起動する
// 返された WriteCloser の Close は書き出しの完了を待つ
type EncoderFactory func(ctx context.Context, path string, width, height, fps int) (io.WriteCloser, error)

// FFmpegEncoder は ffmpeg に標準入力経由でフレームを渡すエンコーダ
func FFmpegEncoder(codec, tag string) EncoderFactory {
	return func(ctx context.Context, path string, width, height, fps int) (io.WriteCloser, error) {
		input := ffmpeg.KwArgs{
			"f":       "rawvideo",
			"pix_fmt": "rgb24",
			"s":       fmt.Sprintf("%dx%d", width, height),
			"r":       fps,
		}
		output := ffmpeg.KwArgs{
			"c:v": codec,
			"r":   fps,
		}
		if tag != "" {
			output["vtag"] = tag
		}

		pr, pw := io.Pipe()
		stream := ffmpeg.Input("pipe:", input).
			Output(path, output).
			OverWriteOutput().
			WithInput(pr)
		stream.Context = ctx

		done := make(chan error, 1)
		go func() {
			err := stream.Run()
			if err != nil {
				_ = pr.CloseWithError(fmt.Errorf("ffmpegが終了しました: %w", err))
			} else {
				_ = pr.Close()
			}
			done <- err
		}()

		return &pipeEncoder{pipe: pw, done: done}, nil
	}
}

type pipeEncoder struct {
	pipe *io.PipeWriter
	done <-chan error
}

func (e *pipeEncoder) Write(p []byte) (int, error) {
	return e.pipe.Write(p)
}

// Close は入力を閉じて ffmpeg の終了を待つ
func (e *pipeEncoder) Close() error {
	_ = e.pipe.Close()
	if err := <-e.done; err != nil {
		return fmt.Errorf("動画の書き出しに失敗: %w", err)
	}
	return nil
}

// rgb24 は RGBA のピクセルをアルファなしの RGB 列へ詰め直す
func rgb24(img *image.RGBA, dst []byte) []byte {
	b := img.Bounds()
	need := b.Dx() * b.Dy() * 3
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):]
		for x := 0; x < b.Dx(); x++ {
			dst[i] = row[x*4]
			dst[i+1] = row[x*4+1]
			dst[i+2] = row[x*4+2]
			i += 3
		}
	}
	return dst
}
