package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lanebot/internal/config"
	"lanebot/internal/frame"
	"lanebot/internal/pantilt"
	"lanebot/internal/params"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間
const shutdownTimeout = 5 * time.Second

// Gimbal はカメラ雲台の操作
type Gimbal interface {
	Nudge(ctx context.Context, dir pantilt.Direction) (pantilt.Position, error)
	Center(ctx context.Context) (pantilt.Position, error)
	Position() pantilt.Position
}

// Recorder は録画の操作
type Recorder interface {
	Toggle(ctx context.Context) (bool, error)
	Active() bool
}

// Status はロボット全体の状態
type Status struct {
	Driver   string        `json:"driver"`
	Camera   string        `json:"camera"`
	Ticks    uint64        `json:"ticks"`
	Faults   uint64        `json:"faults"`
	Frames   uint64        `json:"frames"`
	Misses   uint64        `json:"misses"`
	Uptime   time.Duration `json:"uptime"`
	Recorded uint64        `json:"recorded_frames"`
}

// Controller はロボット本体への操作
type Controller interface {
	// Halt はモーターを止める
	Halt(ctx context.Context) error
	// Poweroff はロボットを止めて電源を切る
	Poweroff(ctx context.Context) error
	// Exit はロボットを止めてプロセスを終える
	Exit()
	Status() Status
}

// Deps はハンドラが操作する部品
type Deps struct {
	Store      *params.Store
	Presets    params.PresetStore
	Buffer     *frame.Buffer
	Views      *frame.Views
	Gimbal     Gimbal
	Recorder   Recorder
	Controller Controller
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	deps       Deps
	engine     *gin.Engine
	httpServer *http.Server
	logger     *zap.Logger
}

// New は新しいServerインスタンスを作成する
func New(cfg *config.Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		config: cfg,
		deps:   deps,
		engine: engine,
		logger: logger.Named("server"),
	}
	engine.Use(gin.Recovery(), s.accessLog())
	s.setupRoutes()

	// ライブビューの接続はシャットダウン開始で切る
	streams, cancelStreams := context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Addr:         cfg.ServerAddress(),
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return streams },
	}
	s.httpServer.RegisterOnShutdown(cancelStreams)
	return s
}

// Handler はルーティング済みのハンドラを返す
func (s *Server) Handler() http.Handler {
	return s.engine
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	s.engine.GET("/", s.handleRoot)
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/live_view", s.handleLiveView)

	api := s.engine.Group("/api")
	api.GET("/status", s.handleStatus)
	api.GET("/schema", s.handleSchema)
	api.GET("/hud", s.handleHUD)
	api.POST("/params", s.handleParams)
	api.POST("/mode/:mode", s.handleMode)
	api.POST("/cam/:dir", s.handleCam)
	api.POST("/rec/toggle", s.handleRecToggle)
	api.POST("/preset/:kind/:name", s.handleLoadPreset)
	api.POST("/save_preset/:name", s.handleSavePreset)
	api.GET("/presets", s.handlePresets)
	api.POST("/shutdown", s.handleShutdown)
	api.POST("/exit", s.handleExit)
}

// accessLog はリクエストをzapに記録する
// ライブビューは接続が長いのでデバッグレベルにする
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := zap.InfoLevel
		if c.FullPath() == "/live_view" || c.FullPath() == "/api/hud" {
			level = zap.DebugLevel
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = zap.WarnLevel
		}
		s.logger.Log(level, "HTTPリクエスト",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

// Start はサーバーを起動し、コンテキストがキャンセルされたらシャットダウンする
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("サーバーの起動に失敗: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve は与えられたリスナーで待ち受ける
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		s.logger.Info("HTTPサーバーを起動しています", zap.String("addr", ln.Addr().String()))
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("コンテキストがキャンセルされました")
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	s.logger.Info("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.logger.Info("サーバーが正常にシャットダウンされました")
	return nil
}
