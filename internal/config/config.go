package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Camera    CameraConfig    `yaml:"camera"`
	Driver    DriverConfig    `yaml:"driver"`
	Control   ControlConfig   `yaml:"control"`
	PanTilt   PanTiltConfig   `yaml:"pantilt"`
	Recording RecordingConfig `yaml:"recording"`
	Presets   PresetsConfig   `yaml:"presets"`
	Log       LogConfig       `yaml:"log"`
	System    SystemConfig    `yaml:"system"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Source   string `yaml:"source" validate:"oneof=gst ffmpeg synthetic"`
	Device   string `yaml:"device"`   // デバイスパス (空なら自動検出)
	Pipeline string `yaml:"pipeline"` // GStreamerパイプラインの上書き

	FPS    int `yaml:"fps" validate:"min=1,max=120"`
	Width  int `yaml:"width" validate:"min=32,max=1920"`
	Height int `yaml:"height" validate:"min=32,max=1080"`

	// カメラが逆さまに取り付けられているため既定で両方反転する
	HFlip bool `yaml:"hflip"`
	VFlip bool `yaml:"vflip"`
}

// DriverConfig はモーター/サーボドライバの設定
type DriverConfig struct {
	Kind        string        `yaml:"kind" validate:"oneof=loborobot can serial fake"`
	CallTimeout time.Duration `yaml:"call_timeout" validate:"min=1ms"`

	// PCA9685 (I2C)
	I2CBus       string   `yaml:"i2c_bus"`
	I2CAddress   uint16   `yaml:"i2c_address" validate:"required_if=Kind loborobot"`
	PWMFrequency int      `yaml:"pwm_frequency" validate:"min=0,max=1526"`
	DirPins      []string `yaml:"dir_pins"` // モーターDの方向ピン (IN1, IN2)

	// CAN
	CANInterface string `yaml:"can_interface" validate:"required_if=Kind can"`
	CANBaseID    uint32 `yaml:"can_base_id"`

	// シリアル
	SerialPort string `yaml:"serial_port" validate:"required_if=Kind serial"`
	SerialBaud int    `yaml:"serial_baud"`
}

// ControlConfig は制御ループの設定
type ControlConfig struct {
	Idle         time.Duration `yaml:"idle" validate:"min=1ms"`          // 新しいフレームがない時の待機
	ErrorPause   time.Duration `yaml:"error_pause"`                      // ティック失敗後の待機
	ViewInterval time.Duration `yaml:"view_interval" validate:"min=1ms"` // ライブビューの配信間隔
}

// PanTiltConfig はカメラ雲台の設定
type PanTiltConfig struct {
	PanChannel  int           `yaml:"pan_channel" validate:"min=0,max=15"`
	TiltChannel int           `yaml:"tilt_channel" validate:"min=0,max=15"`
	HomePan     int           `yaml:"home_pan" validate:"min=0,max=180"`
	HomeTilt    int           `yaml:"home_tilt" validate:"min=0,max=180"`
	Step        int           `yaml:"step" validate:"min=1,max=90"`
	Settle      time.Duration `yaml:"settle"`
}

// RecordingConfig は録画の設定
type RecordingConfig struct {
	Dir    string `yaml:"dir" validate:"required"`
	FPS    int    `yaml:"fps" validate:"min=1,max=60"`
	Codec  string `yaml:"codec" validate:"required"`
	Tag    string `yaml:"tag"`
	Prefix string `yaml:"prefix"`
}

// PresetsConfig はユーザープリセットの保存先
type PresetsConfig struct {
	File string `yaml:"file" validate:"required"`
}

// LogConfig はログ出力の設定
type LogConfig struct {
	Level    string `yaml:"level" validate:"oneof=debug info warn error"`
	Encoding string `yaml:"encoding" validate:"oneof=console json"`
}

// SystemConfig はシステム操作の設定
type SystemConfig struct {
	PoweroffCommand []string `yaml:"poweroff_command"`
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         5000,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Source: "gst",
			FPS:    30,
			Width:  320,
			Height: 240,
			HFlip:  true,
			VFlip:  true,
		},
		Driver: DriverConfig{
			Kind:         "loborobot",
			CallTimeout:  200 * time.Millisecond,
			I2CAddress:   0x40,
			PWMFrequency: 50,
			DirPins:      []string{"GPIO25", "GPIO24"},
			CANInterface: "can0",
			CANBaseID:    0x200,
			SerialBaud:   115200,
		},
		Control: ControlConfig{
			Idle:         5 * time.Millisecond,
			ErrorPause:   time.Second,
			ViewInterval: 50 * time.Millisecond,
		},
		PanTilt: PanTiltConfig{
			PanChannel:  10,
			TiltChannel: 9,
			HomePan:     90,
			HomeTilt:    15,
			Step:        5,
			Settle:      200 * time.Millisecond,
		},
		Recording: RecordingConfig{
			Dir:    ".",
			FPS:    20,
			Codec:  "mpeg4",
			Tag:    "xvid",
			Prefix: "race_",
		},
		Presets: PresetsConfig{
			File: "user_presets.yaml",
		},
		Log: LogConfig{
			Level:    "info",
			Encoding: "console",
		},
		System: SystemConfig{
			PoweroffCommand: []string{"sudo", "shutdown", "-h", "now"},
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → YAMLファイル → 環境変数 の順に上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// ファイルがなければデフォルトのまま
		case err != nil:
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
			}
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("LANEBOT_HOST", getEnvOrDefault("SERVER_HOST", c.Server.Host))
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Driver.Kind = getEnvOrDefault("LANEBOT_DRIVER", c.Driver.Kind)
	c.Camera.Source = getEnvOrDefault("LANEBOT_CAMERA", c.Camera.Source)
	c.Log.Level = getEnvOrDefault("LANEBOT_LOG_LEVEL", c.Log.Level)
}

var validate = validator.New()

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if c.Driver.Kind == "loborobot" {
		if c.Driver.PWMFrequency < 24 {
			return fmt.Errorf("無効なPWM周波数: %d", c.Driver.PWMFrequency)
		}
		if len(c.Driver.DirPins) != 2 {
			return fmt.Errorf("方向ピンは2本必要です: %v", c.Driver.DirPins)
		}
	}

	if c.PanTilt.PanChannel == c.PanTilt.TiltChannel {
		return fmt.Errorf("パンとチルトのチャンネルが重複しています: %d", c.PanTilt.PanChannel)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
