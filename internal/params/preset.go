package params

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownPreset は工場プリセットが存在しないことを示す
	ErrUnknownPreset = errors.New("未知のプリセットです")
	// ErrPresetNotFound はユーザープリセットが保存されていないことを示す
	ErrPresetNotFound = errors.New("保存データがありません")
)

// factoryOverrides は既定値との差分だけを持つ工場プリセット
var factoryOverrides = map[string]map[string]float64{
	"home": {
		MaskModeName:    float64(MaskYellow),
		CurveSlow:       0.45,
		WhiteCurveBoost: 1.0,
		Lookahead:       0,
	},
	"school": {
		MaskModeName:    float64(MaskWhite),
		SMax:            40,
		CurveSlow:       0.50,
		WhiteCurveBoost: 1.2,
		Lookahead:       10,
	},
}

// Factory は工場プリセットの全パラメータを返す
func Factory(name string) (map[string]float64, error) {
	overrides, ok := factoryOverrides[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPreset, name)
	}

	values := Defaults()
	// 工場プリセットは線の太さを持たない
	delete(values, WhiteLineThick)
	for k, v := range overrides {
		values[k] = v
	}
	return values, nil
}

// FactoryNames は工場プリセット名の一覧を返す
func FactoryNames() []string {
	names := make([]string, 0, len(factoryOverrides))
	for name := range factoryOverrides {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetStore はユーザープリセットの永続化先
type PresetStore interface {
	Save(name string, values map[string]float64) error
	Load(name string) (map[string]float64, error)
	Names() ([]string, error)
}

// FileStore はYAMLファイルにユーザープリセットを保存する
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore は新しいFileStoreを作成する
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save は調整パラメータを名前付きで保存する（テレメトリは除外する）
func (fs *FileStore) Save(name string, values map[string]float64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all, err := fs.read()
	if err != nil {
		return err
	}

	clean := make(map[string]float64, len(values))
	for k, v := range values {
		if IsTelemetry(k) {
			continue
		}
		spec, ok := Lookup(k)
		if !ok {
			continue
		}
		clean[spec.Name] = v
	}
	all[name] = clean

	return fs.write(all)
}

// Load は名前付きプリセットを読み込む
func (fs *FileStore) Load(name string) (map[string]float64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all, err := fs.read()
	if err != nil {
		return nil, err
	}

	values, ok := all[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPresetNotFound, name)
	}
	return values, nil
}

// Names は保存済みプリセット名の一覧を返す
func (fs *FileStore) Names() ([]string, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	all, err := fs.read()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (fs *FileStore) read() (map[string]map[string]float64, error) {
	all := make(map[string]map[string]float64)

	data, err := os.ReadFile(fs.path)
	if errors.Is(err, os.ErrNotExist) {
		return all, nil
	}
	if err != nil {
		return nil, fmt.Errorf("プリセットファイルの読み込みに失敗: %w", err)
	}

	if err := yaml.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("プリセットファイルの解析に失敗: %w", err)
	}
	if all == nil {
		all = make(map[string]map[string]float64)
	}
	return all, nil
}

// write は一時ファイル経由で置き換える
func (fs *FileStore) write(all map[string]map[string]float64) error {
	data, err := yaml.Marshal(all)
	if err != nil {
		return fmt.Errorf("プリセットのシリアライズに失敗: %w", err)
	}

	if dir := filepath.Dir(fs.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("プリセットディレクトリの作成に失敗: %w", err)
		}
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("プリセットファイルの書き込みに失敗: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("プリセットファイルの置き換えに失敗: %w", err)
	}
	return nil
}
