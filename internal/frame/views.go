package frame

import (
	"image"
	"sync"
	"time"
)

// ライブビューの種類
const (
	ViewCamera = "cv"
	ViewMask   = "mask"
	ViewWhite  = "maskw"
	ViewYellow = "masky"
)

// ViewNames は配信可能なビュー名
var ViewNames = []string{ViewCamera, ViewMask, ViewWhite, ViewYellow}

// Views は制御ループが生成した処理済み画像を名前付きで保持する
type Views struct {
	mu      sync.RWMutex
	images  map[string]image.Image
	updated time.Time
}

// NewViews は空のViewsを作成する
func NewViews() *Views {
	return &Views{images: make(map[string]image.Image)}
}

// Publish はビューをまとめて差し替える
// 渡した画像は以降変更しないこと
func (v *Views) Publish(images map[string]image.Image, at time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()

	for name, img := range images {
		v.images[name] = img
	}
	v.updated = at
}

// Get は指定されたビューと更新時刻を返す
func (v *Views) Get(name string) (image.Image, time.Time, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	img, ok := v.images[name]
	return img, v.updated, ok
}

// IsView は名前が既知のビューかどうかを返す
func IsView(name string) bool {
	for _, n := range ViewNames {
		if n == name {
			return true
		}
	}
	return false
}
