package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Camera  CameraConfig  `yaml:"camera"`
	Flash   FlashConfig   `yaml:"flash"`
	Library LibraryConfig `yaml:"library"`
	Authz   AuthzConfig   `yaml:"authz"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	ReadTimeoutSec int `yaml:"read_timeout_sec"` // 読み込みタイムアウト（秒）
}

// ReadTimeout は読み込みタイムアウトをDurationで返す
func (s ServerConfig) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSec) * time.Second
}

// CameraConfig はカメラデバイスの設定
type CameraConfig struct {
	BackDevice  string `yaml:"back_device"`  // 背面カメラのデバイスパス
	FrontDevice string `yaml:"front_device"` // 前面カメラのデバイスパス

	InitialPosition string `yaml:"initial_position"` // 起動時のカメラ位置 (back/front)

	Width  int `yaml:"width"`  // 画像幅
	Height int `yaml:"height"` // 画像高さ
	FPS    int `yaml:"fps"`    // フレームレート

	Mock bool `yaml:"mock"` // モックデバイスを使用（開発・テスト用）
}

// FlashConfig はストロボ（フラッシュLED）の設定
type FlashConfig struct {
	Enabled bool `yaml:"enabled"`  // ストロボハードウェアを使用するか
	Pin     int  `yaml:"pin"`      // GPIOピン番号 (BCM)
	PulseMs int  `yaml:"pulse_ms"` // 発光時間（ミリ秒）
	Mock    bool `yaml:"mock"`     // モックストロボを使用（開発・テスト用）
}

// Pulse は発光時間をDurationで返す
func (f FlashConfig) Pulse() time.Duration {
	return time.Duration(f.PulseMs) * time.Millisecond
}

// LibraryConfig はフォトライブラリの設定
type LibraryConfig struct {
	Dir string `yaml:"dir"` // アセット保存先ディレクトリ
}

// PolicyConfig は1つの権限境界のポリシー設定
type PolicyConfig struct {
	Policy    string `yaml:"policy"`     // allow / limited / deny / restricted / ask
	OnRequest string `yaml:"on_request"` // ask時の要求結果 (allow / limited / deny)
}

// AuthzConfig は権限ポリシーの設定
type AuthzConfig struct {
	Camera  PolicyConfig `yaml:"camera"`  // カメラ使用権限
	Library PolicyConfig `yaml:"library"` // ライブラリ書き込み権限
}

// Load は設定を読み込む
// デフォルト値 → 設定ファイル（指定時）→ 環境変数 の順で上書きされる
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// defaultConfig はデフォルト設定を作成する
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeoutSec: 10,
			// ストリーミングのため書き込みタイムアウトは設けない
		},
		Camera: CameraConfig{
			BackDevice:      "/dev/video0",
			FrontDevice:     "/dev/video2",
			InitialPosition: "back",
			Width:           1280,
			Height:          720,
			FPS:             15,
		},
		Flash: FlashConfig{
			Enabled: false,
			Pin:     17,
			PulseMs: 150,
		},
		Library: LibraryConfig{
			Dir: "photos",
		},
		Authz: AuthzConfig{
			Camera:  PolicyConfig{Policy: "allow"},
			Library: PolicyConfig{Policy: "allow"},
		},
	}
}

// applyEnv は環境変数で設定を上書きする
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.Library.Dir = getEnvOrDefault("LIBRARY_DIR", cfg.Library.Dir)
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if c.Camera.InitialPosition != "back" && c.Camera.InitialPosition != "front" {
		return fmt.Errorf("無効な初期カメラ位置: %s", c.Camera.InitialPosition)
	}

	if c.Camera.Width <= 0 || c.Camera.Width > 4096 {
		return fmt.Errorf("無効な幅: %d", c.Camera.Width)
	}

	if c.Camera.Height <= 0 || c.Camera.Height > 4096 {
		return fmt.Errorf("無効な高さ: %d", c.Camera.Height)
	}

	if c.Camera.FPS <= 0 || c.Camera.FPS > 60 {
		return fmt.Errorf("無効なFPS値: %d", c.Camera.FPS)
	}

	if c.Library.Dir == "" {
		return fmt.Errorf("ライブラリディレクトリが指定されていません")
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
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
