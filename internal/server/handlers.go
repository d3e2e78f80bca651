package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lanebot/internal/pantilt"
	"lanebot/internal/params"
	"lanebot/internal/recorder"
)

// errorResponse はエラー時のレスポンス
type errorResponse struct {
	OK  bool   `json:"ok"`
	Msg string `json:"msg"`
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, errorResponse{OK: false, Msg: msg})
}

// handleRoot は操作画面を返す
func (s *Server) handleRoot(c *gin.Context) {
	data, err := indexHTML()
	if err != nil {
		s.logger.Error("操作画面の読み込みに失敗", zap.Error(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", data)
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// handleStatus はロボットの状態を返す
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "running",
		"server": gin.H{
			"host": s.config.Server.Host,
			"port": s.config.Server.Port,
		},
		"robot":     s.deps.Controller.Status(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// schemaEntry は操作画面のスライダー定義
type schemaEntry struct {
	Name    string  `json:"name"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Default float64 `json:"default"`
	Integer bool    `json:"integer"`
}

// handleSchema は調整パラメータの範囲を返す
func (s *Server) handleSchema(c *gin.Context) {
	out := make([]schemaEntry, 0, len(params.Schema))
	for _, spec := range params.Schema {
		out = append(out, schemaEntry(spec))
	}
	c.JSON(http.StatusOK, out)
}

// handleHUD は調整パラメータ、テレメトリ、走行モード、録画状態をまとめて返す
func (s *Server) handleHUD(c *gin.Context) {
	values := s.deps.Store.Values()
	tel := s.deps.Store.Telemetry()

	hud := make(gin.H, len(values)+16)
	for k, v := range values {
		hud[k] = v
	}
	hud["cte"] = tel.CTE
	hud["fps"] = tel.FPS
	hud["mask_used"] = tel.MaskUsed
	hud["steering"] = tel.Steering
	hud["mask_px"] = tel.MaskPx
	hud["mask_w_px"] = tel.MaskWhitePx
	hud["mask_y_px"] = tel.MaskYellowPx
	hud["left_spd"] = tel.Left
	hud["right_spd"] = tel.Right
	hud["state"] = tel.State
	hud["auto"] = s.deps.Store.Auto()
	hud["recording"] = s.deps.Recorder.Active()

	pos := s.deps.Gimbal.Position()
	hud["pan"] = pos.Pan
	hud["tilt"] = pos.Tilt

	c.JSON(http.StatusOK, hud)
}

// handleParams は調整パラメータを書き込む
// 未知の名前とテレメトリ項目は無視する
func (s *Server) handleParams(c *gin.Context) {
	var updates map[string]float64
	if err := c.ShouldBindJSON(&updates); err != nil {
		fail(c, http.StatusBadRequest, "パラメータは名前と数値のJSONオブジェクトで指定してください")
		return
	}

	applied := s.deps.Store.Write(updates)
	if len(applied) != len(updates) {
		s.logger.Debug("一部のパラメータを無視しました",
			zap.Int("requested", len(updates)),
			zap.Strings("applied", applied),
		)
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "applied": applied})
}

// handleMode は自動走行の開始と停止を切り替える
func (s *Server) handleMode(c *gin.Context) {
	switch c.Param("mode") {
	case "start":
		s.deps.Store.SetAuto(true)
		s.logger.Info("自動走行を開始")
		c.JSON(http.StatusOK, gin.H{"mode": "auto"})
	case "stop":
		s.deps.Store.SetAuto(false)
		s.logger.Info("自動走行を停止")
		if err := s.deps.Controller.Halt(c.Request.Context()); err != nil {
			s.logger.Warn("モーターの停止に失敗", zap.Error(err))
		}
		c.JSON(http.StatusOK, gin.H{"mode": "stop"})
	default:
		fail(c, http.StatusBadRequest, "未知のモードです: "+c.Param("mode"))
	}
}

// handleCam は雲台を動かす
func (s *Server) handleCam(c *gin.Context) {
	ctx := c.Request.Context()

	var (
		pos pantilt.Position
		err error
	)
	if c.Param("dir") == "center" {
		pos, err = s.deps.Gimbal.Center(ctx)
	} else {
		dir, perr := pantilt.ParseDirection(c.Param("dir"))
		if perr != nil {
			fail(c, http.StatusBadRequest, perr.Error())
			return
		}
		pos, err = s.deps.Gimbal.Nudge(ctx, dir)
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, pos)
}

// handleRecToggle は録画を切り替える
func (s *Server) handleRecToggle(c *gin.Context) {
	on, err := s.deps.Recorder.Toggle(c.Request.Context())
	switch {
	case errors.Is(err, recorder.ErrNoFrame):
		c.JSON(http.StatusConflict, gin.H{"r": false, "msg": err.Error()})
	case err != nil:
		s.logger.Error("録画の切り替えに失敗", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"r": s.deps.Recorder.Active(), "msg": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"r": on})
	}
}

// handleLoadPreset は工場プリセットまたはユーザープリセットを一括で書き込む
func (s *Server) handleLoadPreset(c *gin.Context) {
	kind, name := c.Param("kind"), c.Param("name")

	var (
		values map[string]float64
		err    error
	)
	switch kind {
	case "factory":
		values, err = params.Factory(name)
	case "user":
		values, err = s.deps.Presets.Load(name)
	default:
		fail(c, http.StatusBadRequest, "未知のプリセット種別です: "+kind)
		return
	}

	switch {
	case errors.Is(err, params.ErrUnknownPreset), errors.Is(err, params.ErrPresetNotFound):
		fail(c, http.StatusOK, err.Error())
		return
	case err != nil:
		s.logger.Error("プリセットの読み込みに失敗", zap.String("kind", kind), zap.String("name", name), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	applied := s.deps.Store.Write(values)
	s.logger.Info("プリセットを読み込みました",
		zap.String("kind", kind),
		zap.String("name", name),
		zap.Int("params", len(applied)),
	)
	c.JSON(http.StatusOK, gin.H{"ok": true, "params": s.deps.Store.Values()})
}

// handleSavePreset は現在の調整パラメータをユーザープリセットとして保存する
func (s *Server) handleSavePreset(c *gin.Context) {
	name := c.Param("name")
	if err := s.deps.Presets.Save(name, s.deps.Store.Values()); err != nil {
		s.logger.Error("プリセットの保存に失敗", zap.String("name", name), zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	s.logger.Info("プリセットを保存しました", zap.String("name", name))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handlePresets はプリセット名の一覧を返す
func (s *Server) handlePresets(c *gin.Context) {
	user, err := s.deps.Presets.Names()
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"factory": params.FactoryNames(),
		"user":    user,
	})
}

// handleShutdown はロボットを止めて電源を切る
func (s *Server) handleShutdown(c *gin.Context) {
	if err := s.deps.Controller.Poweroff(c.Request.Context()); err != nil {
		s.logger.Error("電源断に失敗", zap.Error(err))
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// handleExit はロボットを止めてプロセスを終える
// 応答を返してからシャットダウンが始まる
func (s *Server) handleExit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
	s.deps.Controller.Exit()
}
