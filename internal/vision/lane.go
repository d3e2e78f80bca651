package vision

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"lanebot/internal/params"
)

// Mask は最終的に採用した色マスク
type Mask int

const (
	MaskWhite Mask = iota + 1
	MaskYellow
	MaskBoth
)

func (m Mask) String() string {
	switch m {
	case MaskWhite:
		return "white"
	case MaskYellow:
		return "yellow"
	case MaskBoth:
		return "both"
	default:
		return "none"
	}
}

// denoiseMinPx を超える画素数のマスクだけにオープニングをかける
const denoiseMinPx = 1200

// boostMinCTE を超える誤差のときだけ白線の補正倍率をかける
const boostMinCTE = 10

// chooseMask はモードと画素数から使うマスクを決める
// 自動モードでは、白の被覆率が上限を超えて黄が最低画素数を満たす場合と、
// 黄が最低画素数を満たし白より多い場合の両方で黄を選ぶ
func chooseMask(mode params.MaskMode, whitePx, yellowPx, roiPx int, maxCov float64, yMin int) Mask {
	switch mode {
	case params.MaskWhite:
		return MaskWhite
	case params.MaskYellow:
		return MaskYellow
	case params.MaskBoth:
		return MaskBoth
	}

	yellowOK := yellowPx >= yMin
	if coverage(whitePx, roiPx) > maxCov && yellowOK {
		return MaskYellow
	}
	if yellowOK && yellowPx > whitePx {
		return MaskYellow
	}
	return MaskWhite
}

// fallbackToYellow は選んだマスクが広がりすぎている時に黄へ切り替えるかを判定する
func fallbackToYellow(chosen Mask, chosenPx, yellowPx, roiPx int, maxCov float64, yMin int) bool {
	return chosen != MaskYellow && coverage(chosenPx, roiPx) > maxCov && yellowPx >= yMin
}

func coverage(px, roiPx int) float64 {
	if roiPx < 1 {
		roiPx = 1
	}
	return float64(px) / float64(roiPx)
}

// FindPeaks はヒストグラムを中央で左右に分け、それぞれの最大列を返す
// 最大値が peakMin 未満の側は -1。同値の場合は最も小さい列を採用する
func FindPeaks(hist []float64, peakMin int) (left, right int) {
	left, right = -1, -1
	mid := len(hist) / 2
	if mid == 0 {
		return left, right
	}

	lh, rh := hist[:mid], hist[mid:]
	if floats.Max(lh) >= float64(peakMin) {
		left = floats.MaxIdx(lh)
	}
	if floats.Max(rh) >= float64(peakMin) {
		right = floats.MaxIdx(rh) + mid
	}
	return left, right
}

// laneMemory はフレームをまたいで保持するレーン中心と幅
type laneMemory struct {
	center int
	width  int
}

// resolveCenter はピークからレーン中心を決め、有効なら記憶を更新する
// 両側のピークがあっても間隔が minLaneWidth 以下なら片側として扱う
func resolveCenter(left, right, minLaneWidth, frameWidth int, mem *laneMemory) (center, width int, valid bool) {
	center, width = mem.center, mem.width

	switch {
	case left >= 0 && right >= 0 && right-left > minLaneWidth:
		center = (left + right) / 2
		width = right - left
		valid = true
	case left >= 0:
		center = left + width/2
		valid = true
	case right >= 0:
		center = right - width/2
		valid = true
	}

	if !valid {
		return center, width, false
	}

	center = max(0, min(frameWidth-1, center))
	mem.center = center
	mem.width = width
	return center, width, true
}

// crossTrack は画像中央とレーン中心の差を返す
// 白線でカーブ中（誤差が大きい）のときは補正倍率をかける
func crossTrack(mid, center int, valid, white bool, boost float64) float64 {
	if !valid {
		return 0
	}
	cte := float64(mid - center)
	if white && math.Abs(cte) > boostMinCTE {
		cte *= boost
	}
	return cte
}
