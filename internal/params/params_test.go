package params

import (
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	tuning := NewStore().Snapshot()

	assert.InDelta(t, 50, tuning.SpeedBase, 1e-9)
	assert.InDelta(t, 0.45, tuning.Kp, 1e-9)
	assert.InDelta(t, 0.30, tuning.Kd, 1e-9)
	assert.Equal(t, HSVWindow{HMin: 0, HMax: 180, SMin: 0, SMax: 60, VMin: 180, VMax: 255}, tuning.White)
	assert.Equal(t, HSVWindow{HMin: 15, HMax: 45, SMin: 60, SMax: 255, VMin: 80, VMax: 255}, tuning.Yellow)
	assert.Equal(t, MaskAuto, tuning.MaskMode)
	assert.Equal(t, 700*time.Millisecond, tuning.LostTimeout)
	assert.Equal(t, 160, tuning.SingleLaneWidth)
	assert.False(t, tuning.Auto)
}

func TestStoreWrite(t *testing.T) {
	testCases := []struct {
		name    string
		updates map[string]float64
		applied []string
		check   string
		want    float64
	}{
		{"範囲内の値はそのまま", map[string]float64{SpeedBase: 42}, []string{SpeedBase}, SpeedBase, 42},
		{"上限を超える値は丸める", map[string]float64{SpeedBase: 250}, []string{SpeedBase}, SpeedBase, 100},
		{"下限を下回る値は丸める", map[string]float64{Kp: -1}, []string{Kp}, Kp, 0},
		{"整数パラメータは切り捨てる", map[string]float64{PeakMin: 7.9}, []string{PeakMin}, PeakMin, 7},
		{"舵角制限は0にならない", map[string]float64{SteerLimit: 0}, []string{SteerLimit}, SteerLimit, 1},
		{"未知の名前は無視する", map[string]float64{"turbo": 1}, []string{}, SpeedBase, 50},
		{"テレメトリは書き込めない", map[string]float64{"cte": 12}, []string{}, SpeedBase, 50},
		{"NaNは無視する", map[string]float64{Kd: math.NaN()}, []string{}, Kd, 0.30},
		{"旧来の大文字の名前も受け付ける", map[string]float64{"Kp": 0.8}, []string{Kp}, Kp, 0.8},
		{"旧来の名前も範囲内に丸める", map[string]float64{"Kd": 9}, []string{Kd}, Kd, 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewStore()
			applied := store.Write(tc.updates)
			assert.Equal(t, tc.applied, applied)

			got, ok := store.Get(tc.check)
			require.True(t, ok)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestStoreTelemetryAndAuto(t *testing.T) {
	store := NewStore()
	store.PublishTelemetry(Telemetry{CTE: -12, FPS: 28, MaskUsed: "yellow", MaskPx: 900})
	store.SetAuto(true)

	tel := store.Telemetry()
	assert.InDelta(t, -12, tel.CTE, 1e-9)
	assert.Equal(t, "yellow", tel.MaskUsed)
	assert.True(t, store.Auto())
	assert.True(t, store.Snapshot().Auto)

	// テレメトリは調整パラメータに混ざらない
	_, ok := store.Values()["cte"]
	assert.False(t, ok)
}

func TestStoreConcurrentAccess(t *testing.T) {
	store := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				store.Write(map[string]float64{SpeedBase: float64(j % 100), Kp: 0.5})
				_ = store.Snapshot()
				store.PublishTelemetry(Telemetry{FPS: i})
			}
		}(i)
	}
	wg.Wait()

	assert.InDelta(t, 0.5, store.Snapshot().Kp, 1e-9)
}

func TestFactoryPresets(t *testing.T) {
	home, err := Factory("home")
	require.NoError(t, err)
	assert.InDelta(t, float64(MaskYellow), home[MaskModeName], 1e-9)
	assert.InDelta(t, 50, home[SpeedBase], 1e-9)
	_, hasThick := home[WhiteLineThick]
	assert.False(t, hasThick)

	school, err := Factory("school")
	require.NoError(t, err)
	assert.InDelta(t, float64(MaskWhite), school[MaskModeName], 1e-9)
	assert.InDelta(t, 40, school[SMax], 1e-9)
	assert.InDelta(t, 1.2, school[WhiteCurveBoost], 1e-9)
	assert.InDelta(t, 10, school[Lookahead], 1e-9)

	_, err = Factory("garage")
	assert.ErrorIs(t, err, ErrUnknownPreset)

	assert.Equal(t, []string{"home", "school"}, FactoryNames())
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "presets", "user.yaml"))

	store := NewStore()
	store.Write(map[string]float64{Kp: 0.123456789, SpeedBase: 37, MaskModeName: 3})

	values := store.Values()
	values["cte"] = 99 // テレメトリは保存されない
	require.NoError(t, fs.Save("track-a", values))

	loaded, err := fs.Load("track-a")
	require.NoError(t, err)
	_, hasCTE := loaded["cte"]
	assert.False(t, hasCTE)

	// 読み込んだ値を別のストアに適用すると同一のスナップショットになる
	other := NewStore()
	other.Write(loaded)
	assert.Equal(t, store.Snapshot(), other.Snapshot())

	names, err := fs.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"track-a"}, names)

	_, err = fs.Load("track-b")
	assert.ErrorIs(t, err, ErrPresetNotFound)
}

func TestFileStoreLegacyGainNames(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "user.yaml"))
	require.NoError(t, fs.Save("old-rig", map[string]float64{"Kp": 0.7, "Kd": 0.2, SpeedBase: 40}))

	loaded, err := fs.Load("old-rig")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{Kp: 0.7, Kd: 0.2, SpeedBase: 40}, loaded)

	store := NewStore()
	assert.Equal(t, []string{Kd, Kp, SpeedBase}, store.Write(loaded))
	tuning := store.Snapshot()
	assert.InDelta(t, 0.7, tuning.Kp, 1e-9)
	assert.InDelta(t, 0.2, tuning.Kd, 1e-9)
}
