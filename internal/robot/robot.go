// Package robot は全ての部品を組み立ててロボットを動かします。
//
// App.Run は取得、制御、録画の監視、HTTPサーバーを1つのキャンセルで
// まとめて動かし、終了時にはモーターを止めてからデバイスを閉じます。
package robot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lanebot/internal/camera"
	"lanebot/internal/config"
	"lanebot/internal/control"
	"lanebot/internal/driver"
	"lanebot/internal/frame"
	"lanebot/internal/motion"
	"lanebot/internal/pantilt"
	"lanebot/internal/params"
	"lanebot/internal/recorder"
	"lanebot/internal/server"
)

// CommandRunner は外部コマンドを実行する
type CommandRunner func(ctx context.Context, argv []string) error

// execCommand は argv をそのまま実行する
func execCommand(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return errors.New("コマンドが設定されていません")
	}
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s の実行に失敗: %w: %s", strings.Join(argv, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

// Option は App の部品を差し替える
type Option func(*App)

// WithDriver は設定から開く代わりに与えたドライバを使う
func WithDriver(d driver.Driver) Option {
	return func(a *App) { a.driver = d }
}

// WithSource は設定から開く代わりに与えたカメラを使う
func WithSource(s camera.Source) Option {
	return func(a *App) { a.source = s }
}

// WithClock は時計を差し替える
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithEncoder は録画のエンコーダを差し替える
func WithEncoder(f recorder.EncoderFactory) Option {
	return func(a *App) { a.encoder = f }
}

// WithListener は設定のアドレスの代わりに与えたリスナーで待ち受ける
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// WithCommandRunner は電源断コマンドの実行方法を差し替える
func WithCommandRunner(r CommandRunner) Option {
	return func(a *App) { a.run = r }
}

// App はロボット全体
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	clock  clock.Clock

	driver   driver.Driver
	source   camera.Source
	encoder  recorder.EncoderFactory
	listener net.Listener
	run      CommandRunner

	buffer      *frame.Buffer
	views       *frame.Views
	store       *params.Store
	presets     *params.FileStore
	actuator    *motion.Actuator
	gimbal      *pantilt.Gimbal
	recorder    *recorder.Recorder
	loop        *control.Loop
	acquisition *camera.Acquisition
	server      *server.Server

	started time.Time

	mu     sync.Mutex
	cancel context.CancelFunc

	closeOnce sync.Once
	closeErr  error
}

// New はドライバとカメラを開いて全ての部品を組み立てる
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  clock.New(),
		run:    execCommand,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.encoder == nil {
		a.encoder = recorder.FFmpegEncoder(cfg.Recording.Codec, cfg.Recording.Tag)
	}

	if a.driver == nil {
		d, err := driver.Open(ctx, cfg.Driver)
		if err != nil {
			return nil, fmt.Errorf("ドライバのオープンに失敗: %w", err)
		}
		a.driver = d
	}

	if a.source == nil {
		src, err := camera.Open(ctx, cfg.Camera, camera.NewLinuxDiscovery(), a.clock, logger)
		if err != nil {
			return nil, multierr.Append(
				fmt.Errorf("カメラのオープンに失敗: %w", err),
				a.driver.Close(),
			)
		}
		a.source = src
	}

	a.buffer = frame.NewBuffer()
	a.views = frame.NewViews()
	a.store = params.NewStore()
	a.presets = params.NewFileStore(cfg.Presets.File)

	a.actuator = motion.NewActuator(a.driver, cfg.Driver.CallTimeout, logger)
	a.gimbal = pantilt.New(a.driver, cfg.PanTilt, logger)
	a.recorder = recorder.New(cfg.Recording, a.buffer, a.encoder, a.clock, logger)
	a.loop = control.New(cfg.Control, a.buffer, a.views, a.store, a.actuator, a.clock, logger)
	a.acquisition = camera.NewAcquisition(a.source, a.buffer, camera.Transform{
		HFlip: cfg.Camera.HFlip,
		VFlip: cfg.Camera.VFlip,
	}, a.clock, logger)

	a.server = server.New(cfg, server.Deps{
		Store:      a.store,
		Presets:    a.presets,
		Buffer:     a.buffer,
		Views:      a.views,
		Gimbal:     a.gimbal,
		Recorder:   a.recorder,
		Controller: a,
	}, logger)

	return a, nil
}

// Store は調整パラメータを返す
func (a *App) Store() *params.Store {
	return a.store
}

// Run はコンテキストがキャンセルされるか Exit が呼ばれるまでロボットを動かす
// 戻る前に Close でモーターを止めてデバイスを閉じる
func (a *App) Run(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.mu.Lock()
	a.cancel = cancel
	a.started = a.clock.Now()
	a.mu.Unlock()

	defer func() {
		err = multierr.Append(err, a.Close())
	}()

	a.logger.Info("ロボットを起動します",
		zap.String("driver", a.cfg.Driver.Kind),
		zap.String("camera", a.cfg.Camera.Source),
		zap.String("addr", a.cfg.ServerAddress()),
	)

	// 雲台はホーム位置から始める
	if _, err := a.gimbal.Center(ctx); err != nil {
		a.logger.Warn("雲台の初期化に失敗", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.acquisition.Run(gctx)
	})
	g.Go(func() error {
		return a.loop.Run(gctx)
	})
	g.Go(func() error {
		// 終了時に録画中のファイルを閉じる
		<-gctx.Done()
		return a.recorder.Close()
	})
	g.Go(func() error {
		if a.listener != nil {
			return a.server.Serve(gctx, a.listener)
		}
		return a.server.Start(gctx)
	})

	err = g.Wait()
	a.logger.Info("ロボットを停止しました", zap.Error(err))
	return err
}

// Close はモーターを止め、録画を閉じ、ドライバとカメラを閉じる
// 何度呼んでもよい
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.store.SetAuto(false)
		a.closeErr = multierr.Combine(
			a.actuator.Stop(context.Background()),
			a.recorder.Close(),
			a.driver.Close(),
			a.source.Close(),
		)
	})
	return a.closeErr
}

// Halt はモーターを止める
func (a *App) Halt(ctx context.Context) error {
	return a.actuator.Stop(ctx)
}

// Exit は自動走行を解除してアプリを終える
func (a *App) Exit() {
	a.store.SetAuto(false)
	a.logger.Info("終了要求を受け付けました")

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		a.cancel()
	}
}

// Poweroff はロボットを止めて電源断コマンドを実行する
// コマンドが成功したらアプリも終える
func (a *App) Poweroff(ctx context.Context) error {
	a.store.SetAuto(false)
	if err := a.actuator.Stop(ctx); err != nil {
		a.logger.Warn("モーターの停止に失敗", zap.Error(err))
	}
	if err := a.recorder.Close(); err != nil {
		a.logger.Warn("録画の停止に失敗", zap.Error(err))
	}

	a.logger.Warn("電源を切ります", zap.Strings("command", a.cfg.System.PoweroffCommand))
	if err := a.run(context.WithoutCancel(ctx), a.cfg.System.PoweroffCommand); err != nil {
		return fmt.Errorf("電源断に失敗: %w", err)
	}

	a.Exit()
	return nil
}

// Status は各部品の統計をまとめる
func (a *App) Status() server.Status {
	loop := a.loop.Stats()
	frames, misses := a.acquisition.Stats()

	a.mu.Lock()
	started := a.started
	a.mu.Unlock()

	var uptime time.Duration
	if !started.IsZero() {
		uptime = a.clock.Since(started)
	}

	var recorded uint64
	if cur, ok := a.recorder.Current(); ok {
		recorded = cur.Frames
	}

	return server.Status{
		Driver:   a.cfg.Driver.Kind,
		Camera:   a.cfg.Camera.Source,
		Ticks:    loop.Ticks,
		Faults:   loop.Faults,
		Frames:   frames,
		Misses:   misses,
		Uptime:   uptime,
		Recorded: recorded,
	}
}
