// Package params はライブ調整可能な制御パラメータとテレメトリを管理します。
//
// パラメータは型付きスキーマで範囲を持ち、書き込み時に範囲内へ丸められます。
// 制御ループはティックごとに Snapshot で一貫したコピーを取得します。
package params

import (
	"sort"

	"github.com/samber/lo"
)

// Spec は1つの調整パラメータの定義
type Spec struct {
	Name    string
	Min     float64
	Max     float64
	Default float64
	Integer bool // 整数パラメータ（書き込み時に切り捨て）
}

// Clamp は値を範囲内に収める
func (s Spec) Clamp(v float64) float64 {
	if s.Integer {
		v = float64(int(v))
	}
	return lo.Clamp(v, s.Min, s.Max)
}

// パラメータ名
const (
	SpeedBase       = "speed_base"
	Kp              = "kp"
	Kd              = "kd"
	CurveSlow       = "curve_slow"
	HMin            = "h_min"
	HMax            = "h_max"
	SMin            = "s_min"
	SMax            = "s_max"
	VMin            = "v_min"
	VMax            = "v_max"
	YHMin           = "yh_min"
	YHMax           = "yh_max"
	YSMin           = "ys_min"
	YSMax           = "ys_max"
	YVMin           = "yv_min"
	YVMax           = "yv_max"
	MaskModeName    = "mask_mode"
	MaskMaxCov      = "mask_max_cov"
	MinMaskPx       = "min_mask_px"
	YMinPixels      = "y_min_pixels"
	ROIYMin         = "roi_y_min"
	BandH           = "band_h"
	PeakMin         = "peak_min"
	MinLaneWidth    = "min_lane_width"
	SteerGain       = "steer_gain"
	SteerLimit      = "steer_limit"
	LostTimeout     = "lost_timeout"
	CoastFactor     = "coast_factor"
	Lookahead       = "s_lookahead"
	SingleLaneWidth = "single_lane_width"
	WhiteLineThick  = "white_line_thick"
	WhiteCurveBoost = "white_curve_boost"
)

// Schema は全調整パラメータの定義
var Schema = []Spec{
	{Name: SpeedBase, Min: 0, Max: 100, Default: 50},
	{Name: Kp, Min: 0, Max: 2, Default: 0.45},
	{Name: Kd, Min: 0, Max: 2, Default: 0.30},
	{Name: CurveSlow, Min: 0, Max: 0.9, Default: 0.45},

	// 白線のHSV窓
	{Name: HMin, Min: 0, Max: 180, Default: 0, Integer: true},
	{Name: HMax, Min: 0, Max: 180, Default: 180, Integer: true},
	{Name: SMin, Min: 0, Max: 255, Default: 0, Integer: true},
	{Name: SMax, Min: 0, Max: 255, Default: 60, Integer: true},
	{Name: VMin, Min: 0, Max: 255, Default: 180, Integer: true},
	{Name: VMax, Min: 0, Max: 255, Default: 255, Integer: true},

	// 黄線のHSV窓
	{Name: YHMin, Min: 0, Max: 180, Default: 15, Integer: true},
	{Name: YHMax, Min: 0, Max: 180, Default: 45, Integer: true},
	{Name: YSMin, Min: 0, Max: 255, Default: 60, Integer: true},
	{Name: YSMax, Min: 0, Max: 255, Default: 255, Integer: true},
	{Name: YVMin, Min: 0, Max: 255, Default: 80, Integer: true},
	{Name: YVMax, Min: 0, Max: 255, Default: 255, Integer: true},

	{Name: MaskModeName, Min: 0, Max: 3, Default: 0, Integer: true},
	{Name: MaskMaxCov, Min: 0.1, Max: 1, Default: 0.65},
	{Name: MinMaskPx, Min: 0, Max: 1000, Default: 250, Integer: true},
	{Name: YMinPixels, Min: 0, Max: 1000, Default: 250, Integer: true},

	{Name: ROIYMin, Min: 0, Max: 200, Default: 60, Integer: true},
	{Name: BandH, Min: 1, Max: 140, Default: 90, Integer: true},
	{Name: PeakMin, Min: 0, Max: 50, Default: 6, Integer: true},
	{Name: MinLaneWidth, Min: 0, Max: 100, Default: 40, Integer: true},

	{Name: SteerGain, Min: 0, Max: 5, Default: 2.4},
	{Name: SteerLimit, Min: 1, Max: 100, Default: 70},
	{Name: LostTimeout, Min: 0, Max: 2, Default: 0.7},
	{Name: CoastFactor, Min: 0, Max: 1, Default: 0.55},

	{Name: Lookahead, Min: -20, Max: 40, Default: 0, Integer: true},
	{Name: SingleLaneWidth, Min: 80, Max: 250, Default: 160, Integer: true},
	{Name: WhiteLineThick, Min: 0, Max: 5, Default: 1, Integer: true},
	{Name: WhiteCurveBoost, Min: 1, Max: 2, Default: 1.0},
}

var schemaIndex = lo.KeyBy(Schema, func(s Spec) string { return s.Name })

// aliases は旧来の操作パネルや保存データで使われていた名前
var aliases = map[string]string{
	"Kp": Kp,
	"Kd": Kd,
}

// Lookup は名前からパラメータ定義を取得する
// 別名で引いた場合も正式名の定義を返す
func Lookup(name string) (Spec, bool) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	s, ok := schemaIndex[name]
	return s, ok
}

// Defaults は全パラメータの既定値を返す
func Defaults() map[string]float64 {
	values := make(map[string]float64, len(Schema))
	for _, s := range Schema {
		values[s.Name] = s.Default
	}
	return values
}

// Names はパラメータ名をソートして返す
func Names() []string {
	names := lo.Map(Schema, func(s Spec, _ int) string { return s.Name })
	sort.Strings(names)
	return names
}
