package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"lanebot/internal/params"
)

func TestChooseMask(t *testing.T) {
	const roiPx = 320 * 180

	testCases := []struct {
		name     string
		mode     params.MaskMode
		whitePx  int
		yellowPx int
		want     Mask
	}{
		{"白固定", params.MaskWhite, 0, 5000, MaskWhite},
		{"黄固定", params.MaskYellow, 5000, 0, MaskYellow},
		{"和", params.MaskBoth, 10, 10, MaskBoth},
		{"自動: 白だけ", params.MaskAuto, 3000, 0, MaskWhite},
		{"自動: 黄が白より多い", params.MaskAuto, 300, 800, MaskYellow},
		{"自動: 黄が多いが最低画素数未満", params.MaskAuto, 100, 200, MaskWhite},
		{"自動: 黄と白が同数なら白", params.MaskAuto, 800, 800, MaskWhite},
		{"自動: 白が広がりすぎて黄が十分", params.MaskAuto, roiPx * 7 / 10, 400, MaskYellow},
		{"自動: 白が広がりすぎても黄が不足", params.MaskAuto, roiPx * 7 / 10, 100, MaskWhite},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := chooseMask(tc.mode, tc.whitePx, tc.yellowPx, roiPx, 0.65, 250)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestFallbackToYellow(t *testing.T) {
	const roiPx = 1000

	assert.True(t, fallbackToYellow(MaskWhite, 700, 300, roiPx, 0.65, 250))
	assert.True(t, fallbackToYellow(MaskBoth, 900, 300, roiPx, 0.65, 250))
	assert.False(t, fallbackToYellow(MaskYellow, 900, 900, roiPx, 0.65, 250), "既に黄なら切り替えない")
	assert.False(t, fallbackToYellow(MaskWhite, 600, 300, roiPx, 0.65, 250), "被覆率が上限以下")
	assert.False(t, fallbackToYellow(MaskWhite, 700, 100, roiPx, 0.65, 250), "黄が最低画素数未満")
}

func TestFindPeaks(t *testing.T) {
	testCases := []struct {
		name      string
		hist      []float64
		peakMin   int
		wantLeft  int
		wantRight int
	}{
		{"両側", []float64{0, 9, 2, 0, 0, 1, 12, 3}, 6, 1, 6},
		{"左だけ", []float64{0, 9, 2, 0, 0, 1, 2, 3}, 6, 1, -1},
		{"どちらもない", []float64{0, 1, 2, 0, 0, 1, 2, 3}, 6, -1, -1},
		{"同値は最小の列", []float64{7, 7, 7, 0, 5, 8, 8, 1}, 6, 0, 5},
		{"閾値ちょうどは採用", []float64{0, 6, 0, 0, 0, 0, 0, 6}, 6, 1, 7},
		{"閾値0なら空でも左端", []float64{0, 0, 0, 0}, 0, 0, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			left, right := FindPeaks(tc.hist, tc.peakMin)
			assert.Equal(t, tc.wantLeft, left)
			assert.Equal(t, tc.wantRight, right)
		})
	}
}

func TestResolveCenter(t *testing.T) {
	testCases := []struct {
		name       string
		left       int
		right      int
		mem        laneMemory
		wantCenter int
		wantWidth  int
		wantValid  bool
		wantMem    laneMemory
	}{
		{
			name: "両側のピークから中点と幅", left: 80, right: 240,
			mem:        laneMemory{center: 160, width: 160},
			wantCenter: 160, wantWidth: 160, wantValid: true,
			wantMem: laneMemory{center: 160, width: 160},
		},
		{
			name: "幅が更新される", left: 100, right: 200,
			mem:        laneMemory{center: 160, width: 160},
			wantCenter: 150, wantWidth: 100, wantValid: true,
			wantMem: laneMemory{center: 150, width: 100},
		},
		{
			name: "左だけなら記憶した幅の半分を足す", left: 100, right: -1,
			mem:        laneMemory{center: 160, width: 160},
			wantCenter: 180, wantWidth: 160, wantValid: true,
			wantMem: laneMemory{center: 180, width: 160},
		},
		{
			name: "右だけなら記憶した幅の半分を引く", left: -1, right: 250,
			mem:        laneMemory{center: 160, width: 160},
			wantCenter: 170, wantWidth: 160, wantValid: true,
			wantMem: laneMemory{center: 170, width: 160},
		},
		{
			name: "間隔が狭い両側は左だけとして扱う", left: 150, right: 170,
			mem:        laneMemory{center: 160, width: 160},
			wantCenter: 230, wantWidth: 160, wantValid: true,
			wantMem: laneMemory{center: 230, width: 160},
		},
		{
			name: "画像の端に丸める", left: 300, right: -1,
			mem:        laneMemory{center: 160, width: 160},
			wantCenter: 319, wantWidth: 160, wantValid: true,
			wantMem: laneMemory{center: 319, width: 160},
		},
		{
			name: "ピークがなければ前回の中心を表示用に返す", left: -1, right: -1,
			mem:        laneMemory{center: 140, width: 120},
			wantCenter: 140, wantWidth: 120, wantValid: false,
			wantMem: laneMemory{center: 140, width: 120},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mem := tc.mem
			center, width, valid := resolveCenter(tc.left, tc.right, 40, 320, &mem)
			assert.Equal(t, tc.wantCenter, center)
			assert.Equal(t, tc.wantWidth, width)
			assert.Equal(t, tc.wantValid, valid)
			assert.Equal(t, tc.wantMem, mem)
		})
	}
}

func TestCrossTrack(t *testing.T) {
	assert.InDelta(t, -20, crossTrack(160, 180, true, false, 1.5), 1e-9)
	assert.InDelta(t, -30, crossTrack(160, 180, true, true, 1.5), 1e-9, "白線のカーブは補正する")
	assert.InDelta(t, 8, crossTrack(160, 152, true, true, 1.5), 1e-9, "小さい誤差は補正しない")
	assert.InDelta(t, 0, crossTrack(160, 100, false, true, 1.5), 1e-9, "無効なら0")
}

func TestMaskString(t *testing.T) {
	assert.Equal(t, "white", MaskWhite.String())
	assert.Equal(t, "yellow", MaskYellow.String())
	assert.Equal(t, "both", MaskBoth.String())
	assert.Equal(t, "none", Mask(0).String())
}
