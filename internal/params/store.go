package params

import (
	"math"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Store は調整パラメータとテレメトリを排他制御付きで保持する
type Store struct {
	mu        sync.RWMutex
	values    map[string]float64
	telemetry Telemetry
	auto      bool
}

// NewStore は既定値で初期化された Store を作成する
func NewStore() *Store {
	return &Store{
		values: Defaults(),
		telemetry: Telemetry{
			MaskUsed: "white",
			State:    "stopped",
		},
	}
}

// Snapshot は現在の全パラメータの一貫したコピーを返す
func (s *Store) Snapshot() Tuning {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return tuningFrom(s.values, s.auto)
}

// Values は調整パラメータのコピーを返す（テレメトリは含まない）
func (s *Store) Values() map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Get は1つのパラメータ値を返す
func (s *Store) Get(name string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[name]
	return v, ok
}

// Write は認識できるパラメータだけを範囲内に丸めて書き込む
// 未知の名前、テレメトリ項目、有限でない値は無視する。適用した正式名を返す
func (s *Store) Write(updates map[string]float64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	applied := make([]string, 0, len(updates))
	for name, v := range updates {
		spec, ok := Lookup(name)
		if !ok {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		s.values[spec.Name] = spec.Clamp(v)
		applied = append(applied, spec.Name)
	}
	applied = lo.Uniq(applied)
	sort.Strings(applied)
	return applied
}

// Set は1つのパラメータを書き込む
func (s *Store) Set(name string, v float64) bool {
	return len(s.Write(map[string]float64{name: v})) == 1
}

// Reset は全パラメータを既定値に戻す
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.values = Defaults()
}

// PublishTelemetry は制御ループからテレメトリを書き戻す
func (s *Store) PublishTelemetry(t Telemetry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.telemetry = t
}

// Telemetry は最新のテレメトリを返す
func (s *Store) Telemetry() Telemetry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.telemetry
}

// SetAuto は自動走行モードを切り替える
func (s *Store) SetAuto(auto bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auto = auto
}

// Auto は自動走行モードかどうかを返す
func (s *Store) Auto() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.auto
}
