package robot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"lanebot/internal/camera"
	"lanebot/internal/config"
	"lanebot/internal/driver"
)

type nopEncoder struct{}

func (nopEncoder) Write(p []byte) (int, error) { return len(p), nil }
func (nopEncoder) Close() error                { return nil }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Driver.Kind = "fake"
	cfg.Camera.Source = "synthetic"
	cfg.PanTilt.Settle = 0
	cfg.Recording.Dir = t.TempDir()
	cfg.Presets.File = filepath.Join(t.TempDir(), "presets.yaml")
	return cfg
}

type running struct {
	app  *App
	fake *driver.Fake
	url  string
	done chan error
}

func start(t *testing.T, cfg *config.Config, opts ...Option) *running {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fake := driver.NewFake()
	opts = append([]Option{
		WithDriver(fake),
		WithListener(ln),
		WithEncoder(func(context.Context, string, int, int, int) (io.WriteCloser, error) {
			return nopEncoder{}, nil
		}),
	}, opts...)

	app, err := New(context.Background(), cfg, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)

	r := &running{app: app, fake: fake, url: fmt.Sprintf("http://%s", ln.Addr()), done: make(chan error, 1)}
	go func() { r.done <- app.Run(context.Background()) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get(r.url + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 10*time.Millisecond)
	return r
}

func (r *running) post(t *testing.T, path string) int {
	t.Helper()
	resp, err := http.Post(r.url+path, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func (r *running) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("ロボットが停止しない")
		return nil
	}
}

func TestApp_DrivesSyntheticLaneAndExits(t *testing.T) {
	r := start(t, testConfig(t))

	require.Eventually(t, func() bool {
		st := r.app.Status()
		return st.Frames > 0 && st.Ticks > 0
	}, 3*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusOK, r.post(t, "/api/mode/start"))

	// 合成映像のレーンを追従して前進する
	require.Eventually(t, func() bool {
		for _, c := range r.fake.Calls() {
			if c.Op == "wheel" && c.Duty > 0 {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond)
	assert.True(t, r.app.Store().Auto())

	require.Equal(t, http.StatusOK, r.post(t, "/api/exit"))
	require.NoError(t, r.wait(t))

	assert.True(t, r.fake.Closed())
	assert.False(t, r.app.Store().Auto())

	calls := r.fake.Calls()
	require.NotEmpty(t, calls)
	assert.Equal(t, "stop", calls[len(calls)-1].String())
}

func TestApp_StartCentersGimbal(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg)

	var servo []string
	for _, c := range r.fake.Calls() {
		if c.Op == "servo" {
			servo = append(servo, c.String())
		}
	}
	assert.Equal(t, []string{
		driver.Call{Op: "servo", Channel: cfg.PanTilt.PanChannel, Angle: cfg.PanTilt.HomePan}.String(),
		driver.Call{Op: "servo", Channel: cfg.PanTilt.TiltChannel, Angle: cfg.PanTilt.HomeTilt}.String(),
	}, servo)

	r.app.Exit()
	require.NoError(t, r.wait(t))
}

func TestApp_Poweroff(t *testing.T) {
	tests := []struct {
		name     string
		runErr   error
		wantCode int
		wantExit bool
	}{
		{"コマンドが成功したら終了する", nil, http.StatusOK, true},
		{"コマンドが失敗したら動き続ける", errors.New("permission denied"), http.StatusInternalServerError, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.System.PoweroffCommand = []string{"poweroff-now"}

			var (
				mu  sync.Mutex
				ran [][]string
			)
			r := start(t, cfg, WithCommandRunner(func(_ context.Context, argv []string) error {
				mu.Lock()
				defer mu.Unlock()
				ran = append(ran, argv)
				return tt.runErr
			}))

			r.app.Store().SetAuto(true)
			assert.Equal(t, tt.wantCode, r.post(t, "/api/shutdown"))
			assert.False(t, r.app.Store().Auto())

			mu.Lock()
			assert.Equal(t, [][]string{{"poweroff-now"}}, ran)
			mu.Unlock()

			if !tt.wantExit {
				select {
				case <-r.done:
					t.Fatal("電源断に失敗したのに停止した")
				case <-time.After(50 * time.Millisecond):
				}
				r.app.Exit()
			}
			require.NoError(t, r.wait(t))
		})
	}
}

func TestApp_CancelContextStops(t *testing.T) {
	cfg := testConfig(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fake := driver.NewFake()
	app, err := New(context.Background(), cfg, zaptest.NewLogger(t), WithDriver(fake), WithListener(ln))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	require.Eventually(t, func() bool { return app.Status().Frames > 0 }, 3*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("キャンセル後もロボットが停止しない")
	}
	assert.True(t, fake.Closed())
	assert.NoError(t, app.Close())
}

func TestApp_Status(t *testing.T) {
	cfg := testConfig(t)
	mock := clock.NewMock()
	src := camera.NewSyntheticSource(cfg.Camera.Width, cfg.Camera.Height, 0, mock)

	app, err := New(context.Background(), cfg, nil, WithDriver(driver.NewFake()), WithSource(src), WithClock(mock))
	require.NoError(t, err)

	st := app.Status()
	assert.Equal(t, "fake", st.Driver)
	assert.Equal(t, "synthetic", st.Camera)
	assert.Zero(t, st.Uptime)
	assert.NoError(t, app.Close())
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Driver.Kind = "warp"

	_, err := New(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, driver.ErrUnknownKind)
}
