package vision

import (
	"fmt"
	"image"
	"image/color"

	"github.com/samber/lo"
	"gocv.io/x/gocv"

	"lanebot/internal/frame"
	"lanebot/internal/params"
)

// Result は1フレーム分のレーン検出結果
type Result struct {
	Valid  bool
	Center int // 無効な場合は前回の中心（表示用）
	Width  int
	CTE    float64

	Mask     Mask
	MaskPx   int // ノイズ除去後のマスク画素数
	WhitePx  int
	YellowPx int

	LeftPeak  int // なければ -1
	RightPeak int

	Views map[string]image.Image
}

var (
	peakColor   = color.RGBA{G: 255, A: 255}
	centerColor = color.RGBA{B: 255, A: 255}
	midColor    = color.RGBA{R: 255, G: 255, A: 255}
)

// Detector は色の閾値処理とヒストグラムのピークからレーン中心を推定する
// レーン中心と幅の記憶を持つため、1つの制御ループからだけ使うこと
type Detector struct {
	mem    laneMemory
	primed bool
}

// NewDetector は新しいDetectorを作成する
func NewDetector() *Detector {
	return &Detector{}
}

// Memory は記憶しているレーン中心と幅を返す
func (d *Detector) Memory() (center, width int) {
	return d.mem.center, d.mem.width
}

// SetMemory はレーン中心と幅の記憶を上書きする
func (d *Detector) SetMemory(center, width int) {
	d.mem = laneMemory{center: center, width: width}
	d.primed = true
}

// prime は最初のフレームで記憶を初期化する（中心は画像中央、幅は単一レーン幅）
func (d *Detector) prime(frameWidth int, t params.Tuning) {
	if d.primed {
		return
	}
	d.mem = laneMemory{center: frameWidth / 2, width: t.SingleLaneWidth}
	d.primed = true
}

// Detect はフレームのROIからレーン中心を推定する
func (d *Detector) Detect(img *image.RGBA, t params.Tuning) (Result, error) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if w < 2 || h < 1 {
		return Result{}, fmt.Errorf("フレームが小さすぎます: %dx%d", w, h)
	}
	d.prime(w, t)

	bgr, err := rgbaToBGR(img)
	if err != nil {
		return Result{}, err
	}
	defer bgr.Close()

	roiY := lo.Clamp(t.ROIYMin+t.Lookahead, 0, max(0, h-10))
	roi := bgr.Region(image.Rect(0, roiY, w, h))
	defer roi.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(roi, &hsv, gocv.ColorBGRToHSV)

	maskW := inRange(hsv, t.White)
	defer maskW.Close()
	maskY := inRange(hsv, t.Yellow)
	defer maskY.Close()

	whitePx := gocv.CountNonZero(maskW)
	yellowPx := gocv.CountNonZero(maskY)
	roiPx := hsv.Rows() * hsv.Cols()

	choice := chooseMask(t.MaskMode, whitePx, yellowPx, roiPx, t.MaskMaxCov, t.YMinPixels)
	mask := buildMask(choice, maskW, maskY)
	if fallbackToYellow(choice, gocv.CountNonZero(mask), yellowPx, roiPx, t.MaskMaxCov, t.YMinPixels) {
		mask.Close()
		choice = MaskYellow
		mask = maskY.Clone()
	}
	defer mask.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	// 細い白線を太らせる
	if choice == MaskWhite {
		for i := 0; i < t.WhiteLineThick; i++ {
			gocv.Dilate(mask, &mask, kernel)
		}
	}

	if gocv.CountNonZero(mask) > denoiseMinPx {
		gocv.MorphologyEx(mask, &mask, gocv.MorphOpen, kernel)
	}
	gocv.MorphologyEx(mask, &mask, gocv.MorphClose, kernel)

	res := Result{
		Mask:     choice,
		MaskPx:   gocv.CountNonZero(mask),
		WhitePx:  whitePx,
		YellowPx: yellowPx,
	}

	hist := columnHistogram(mask, t.BandH)
	res.LeftPeak, res.RightPeak = FindPeaks(hist, t.PeakMin)
	res.Center, res.Width, res.Valid = resolveCenter(res.LeftPeak, res.RightPeak, t.MinLaneWidth, w, &d.mem)

	mid := w / 2
	res.CTE = crossTrack(mid, res.Center, res.Valid, choice == MaskWhite, t.WhiteCurveBoost)

	// 可視化
	bandH := min(max(t.BandH, 1), mask.Rows())
	yVis := roiY + mask.Rows() - bandH/2
	if res.LeftPeak >= 0 {
		gocv.Circle(&bgr, image.Pt(res.LeftPeak, yVis), 5, peakColor, -1)
	}
	if res.RightPeak >= 0 {
		gocv.Circle(&bgr, image.Pt(res.RightPeak, yVis), 5, peakColor, -1)
	}
	gocv.Circle(&bgr, image.Pt(res.Center, yVis), 6, centerColor, -1)
	gocv.Line(&bgr, image.Pt(mid, yVis-15), image.Pt(mid, yVis+15), midColor, 2)

	res.Views = make(map[string]image.Image, len(frame.ViewNames))
	for name, m := range map[string]*gocv.Mat{
		frame.ViewCamera: &bgr,
		frame.ViewMask:   &mask,
		frame.ViewWhite:  &maskW,
		frame.ViewYellow: &maskY,
	} {
		view, err := m.ToImage()
		if err != nil {
			return res, fmt.Errorf("ビュー %s の変換に失敗: %w", name, err)
		}
		res.Views[name] = view
	}

	return res, nil
}

// rgbaToBGR はRGBA画像をOpenCVのBGR行列に変換する
func rgbaToBGR(img *image.RGBA) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	data := make([]byte, 0, w*h*3)
	for y := 0; y < h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		row := img.Pix[off : off+w*4]
		for x := 0; x < w*4; x += 4 {
			data = append(data, row[x+2], row[x+1], row[x])
		}
	}

	mat, err := gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("画像の行列変換に失敗: %w", err)
	}
	return mat, nil
}

// inRange はHSV窓で二値マスクを作る
func inRange(hsv gocv.Mat, win params.HSVWindow) gocv.Mat {
	mask := gocv.NewMat()
	lower := gocv.NewScalar(float64(win.HMin), float64(win.SMin), float64(win.VMin), 0)
	upper := gocv.NewScalar(float64(win.HMax), float64(win.SMax), float64(win.VMax), 0)
	gocv.InRangeWithScalar(hsv, lower, upper, &mask)
	return mask
}

// buildMask は選択したマスクの複製を作る（元のマスクはビュー用に残す）
func buildMask(choice Mask, maskW, maskY gocv.Mat) gocv.Mat {
	switch choice {
	case MaskYellow:
		return maskY.Clone()
	case MaskBoth:
		union := gocv.NewMat()
		gocv.BitwiseOr(maskW, maskY, &union)
		return union
	default:
		return maskW.Clone()
	}
}

// columnHistogram はマスク下端 bandH 行の列ごとの画素数を数える
func columnHistogram(mask gocv.Mat, bandH int) []float64 {
	rows, cols := mask.Rows(), mask.Cols()
	bandH = min(max(bandH, 1), rows)

	band := mask.Region(image.Rect(0, rows-bandH, cols, rows))
	defer band.Close()
	// Region は連続していないのでコピーしてから読む
	dense := band.Clone()
	defer dense.Close()

	data := dense.ToBytes()
	hist := make([]float64, cols)
	for r := 0; r < bandH; r++ {
		for c, v := range data[r*cols : (r+1)*cols] {
			if v > 0 {
				hist[c]++
			}
		}
	}
	return hist
}
