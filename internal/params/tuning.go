package params

import "time"

// MaskMode はレーン検出に使う色マスクの選択方法
type MaskMode int

const (
	MaskAuto   MaskMode = iota // 画素数から白/黄を自動選択
	MaskWhite                  // 白固定
	MaskYellow                 // 黄固定
	MaskBoth                   // 白と黄の和
)

// HSVWindow はHSV色空間の閾値窓（OpenCVの範囲: H 0-180, S/V 0-255）
type HSVWindow struct {
	HMin, HMax int
	SMin, SMax int
	VMin, VMax int
}

// Tuning は制御ループが1ティックで使うパラメータの一貫したコピー
type Tuning struct {
	SpeedBase float64
	Kp        float64
	Kd        float64
	CurveSlow float64

	White  HSVWindow
	Yellow HSVWindow

	MaskMode   MaskMode
	MaskMaxCov float64
	MinMaskPx  int
	YMinPixels int

	ROIYMin      int
	BandH        int
	PeakMin      int
	MinLaneWidth int

	SteerGain   float64
	SteerLimit  float64
	LostTimeout time.Duration
	CoastFactor float64

	Lookahead       int
	SingleLaneWidth int
	WhiteLineThick  int
	WhiteCurveBoost float64

	// Auto は自動走行モードが有効かどうか
	Auto bool
}

// tuningFrom は値マップから Tuning を組み立てる
func tuningFrom(v map[string]float64, auto bool) Tuning {
	i := func(name string) int { return int(v[name]) }

	return Tuning{
		SpeedBase: v[SpeedBase],
		Kp:        v[Kp],
		Kd:        v[Kd],
		CurveSlow: v[CurveSlow],
		White: HSVWindow{
			HMin: i(HMin), HMax: i(HMax),
			SMin: i(SMin), SMax: i(SMax),
			VMin: i(VMin), VMax: i(VMax),
		},
		Yellow: HSVWindow{
			HMin: i(YHMin), HMax: i(YHMax),
			SMin: i(YSMin), SMax: i(YSMax),
			VMin: i(YVMin), VMax: i(YVMax),
		},
		MaskMode:        MaskMode(i(MaskModeName)),
		MaskMaxCov:      v[MaskMaxCov],
		MinMaskPx:       i(MinMaskPx),
		YMinPixels:      i(YMinPixels),
		ROIYMin:         i(ROIYMin),
		BandH:           i(BandH),
		PeakMin:         i(PeakMin),
		MinLaneWidth:    i(MinLaneWidth),
		SteerGain:       v[SteerGain],
		SteerLimit:      v[SteerLimit],
		LostTimeout:     time.Duration(v[LostTimeout] * float64(time.Second)),
		CoastFactor:     v[CoastFactor],
		Lookahead:       i(Lookahead),
		SingleLaneWidth: i(SingleLaneWidth),
		WhiteLineThick:  i(WhiteLineThick),
		WhiteCurveBoost: v[WhiteCurveBoost],
		Auto:            auto,
	}
}

// DefaultTuning は既定値の Tuning を返す
func DefaultTuning() Tuning {
	return tuningFrom(Defaults(), false)
}

// Telemetry は制御ループが毎ティック書き戻す読み取り専用の値
type Telemetry struct {
	CTE          float64 `json:"cte"`
	FPS          int     `json:"fps"`
	MaskUsed     string  `json:"mask_used"`
	Steering     float64 `json:"steering"`
	MaskPx       int     `json:"mask_px"`
	MaskWhitePx  int     `json:"mask_w_px"`
	MaskYellowPx int     `json:"mask_y_px"`
	Left         int     `json:"left_spd"`
	Right        int     `json:"right_spd"`
	State        string  `json:"state"`
}

// telemetryNames はテレメトリのフィールド名（書き込み対象外）
var telemetryNames = map[string]struct{}{
	"cte": {}, "fps": {}, "mask_used": {}, "steering": {},
	"mask_px": {}, "mask_w_px": {}, "mask_y_px": {},
	"left_spd": {}, "right_spd": {}, "state": {},
}

// IsTelemetry は名前がテレメトリ項目かどうかを返す
func IsTelemetry(name string) bool {
	_, ok := telemetryNames[name]
	return ok
}
