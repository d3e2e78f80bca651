package camera

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestDiscovery は一時ディレクトリのファイルをビデオデバイスに見立てる
func newTestDiscovery(t *testing.T, infos map[string]string, formats map[string]string) (*LinuxDiscovery, string) {
	t.Helper()
	dir := t.TempDir()
	for name := range formats {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	d := NewLinuxDiscovery()
	d.pattern = filepath.Join(dir, "video*")
	d.run = func(_ context.Context, args ...string) ([]byte, error) {
		device := filepath.Base(args[1])
		switch args[2] {
		case "--info":
			if out, ok := infos[device]; ok {
				return []byte(out), nil
			}
		case "--list-formats":
			if out, ok := formats[device]; ok {
				return []byte(out), nil
			}
		}
		return nil, errors.New("v4l2-ctl failed")
	}
	return d, dir
}

const (
	formatsColor = "ioctl: VIDIOC_ENUM_FMT\n\tType: Video Capture\n\n\t[0]: 'MJPG' (Motion-JPEG, compressed)\n\t[1]: 'YUYV' (YUYV 4:2:2)\n"
	formatsGrey  = "ioctl: VIDIOC_ENUM_FMT\n\t[0]: 'GREY' (8-bit Greyscale)\n"
	formatsMeta  = "ioctl: VIDIOC_ENUM_FMT\n\tType: Video Capture\n"
)

func TestLinuxDiscovery_ScanDevices(t *testing.T) {
	infos := map[string]string{
		"video0":  "Driver Info:\n\tCard type        : USB Camera: USB Camera\n",
		"video1":  "Driver Info:\n\tCard type        : USB Camera: USB Camera\n",
		"video2":  "Driver Info:\n\tCard type        : IR Camera\n",
		"video10": "Driver Info:\n\tCard type        : Pi Camera\n",
	}
	formats := map[string]string{
		"video0":  formatsColor,
		"video1":  formatsColor,
		"video2":  formatsGrey,
		"video3":  formatsMeta,
		"video10": formatsColor,
	}
	d, dir := newTestDiscovery(t, infos, formats)

	devices, err := d.ScanDevices(context.Background())
	require.NoError(t, err)

	// 同じカメラの2つ目のノード、グレースケール、メタデータのみのノードは除外
	expected := []string{
		filepath.Join(dir, "video0"),
		filepath.Join(dir, "video10"),
	}
	assert.Equal(t, expected, devices)
}

func TestLinuxDiscovery_GetDeviceInfo(t *testing.T) {
	infos := map[string]string{
		"video0": "Driver Info:\n\tCard type        : USB Camera\n",
	}
	formats := map[string]string{
		"video0": formatsColor,
		"video4": formatsColor,
	}
	d, dir := newTestDiscovery(t, infos, formats)
	ctx := context.Background()

	t.Run("v4l2-ctlからカメラ名を取得", func(t *testing.T) {
		info, err := d.GetDeviceInfo(ctx, filepath.Join(dir, "video0"))
		require.NoError(t, err)
		assert.Equal(t, "USB Camera", info.Name)
		assert.Equal(t, []string{"MJPG", "YUYV"}, info.Formats)
	})

	t.Run("名前が取れなければ番号から生成", func(t *testing.T) {
		info, err := d.GetDeviceInfo(ctx, filepath.Join(dir, "video4"))
		require.NoError(t, err)
		assert.Equal(t, "カメラ 4", info.Name)
	})

	t.Run("存在しないデバイス", func(t *testing.T) {
		_, err := d.GetDeviceInfo(ctx, filepath.Join(dir, "video99"))
		assert.Error(t, err)
	})
}

func TestLinuxDiscovery_IsDeviceAvailable(t *testing.T) {
	ctx := context.Background()
	d := NewLinuxDiscovery()

	assert.False(t, d.IsDeviceAvailable(ctx, "/dev/video999"))
	assert.False(t, d.IsDeviceAvailable(ctx, "/invalid/path"))
}

func TestExtractDeviceNumber(t *testing.T) {
	tests := []struct {
		device string
		want   int
	}{
		{"/dev/video0", 0},
		{"/dev/video12", 12},
		{"/dev/null", 0},
	}
	for _, tt := range tests {
		t.Run(tt.device, func(t *testing.T) {
			assert.Equal(t, tt.want, extractDeviceNumber(tt.device))
		})
	}
}

func TestMockDiscovery(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDiscovery([]string{"/dev/video0", "/dev/video1"})

	devices, err := discovery.ScanDevices(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 2)

	assert.True(t, discovery.IsDeviceAvailable(ctx, "/dev/video0"))
	assert.False(t, discovery.IsDeviceAvailable(ctx, "/dev/video2"))

	info, err := discovery.GetDeviceInfo(ctx, "/dev/video1")
	require.NoError(t, err)
	assert.Equal(t, "テストカメラ 1", info.Name)

	_, err = discovery.GetDeviceInfo(ctx, "/dev/video99")
	assert.Error(t, err)
}

func TestDefaultDevice(t *testing.T) {
	ctx := context.Background()

	device, err := DefaultDevice(ctx, NewMockDiscovery([]string{"/dev/video2", "/dev/video3"}))
	require.NoError(t, err)
	assert.Equal(t, "/dev/video2", device)

	_, err = DefaultDevice(ctx, NewMockDiscovery(nil))
	assert.ErrorIs(t, err, ErrNoDevice)
}
