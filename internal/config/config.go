package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar は設定ファイル（YAML）のパスを指定する環境変数。
const ConfigPathEnvVar = "CONFIG_PATH"

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
//
// 読み込みの優先順位は 環境変数 > 設定ファイル > デフォルト値。
// koanf タグは環境変数名を小文字にしたものと一致する。
type Config struct {
	// Database
	DatabaseURL    string `koanf:"database_url"`
	DBMaxOpenConns int    `koanf:"db_max_open_conns" validate:"gt=0"`

	// Server
	ServerPort      string        `koanf:"server_port" validate:"required,numeric"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`

	// Logging
	LogLevel string `koanf:"log_level" validate:"oneof=debug info warn error"`

	// CORS
	CORSAllowedOrigin string `koanf:"cors_allowed_origin"`

	// Admin API（空の場合は管理APIを無効化する）
	AdminToken string `koanf:"admin_token"`

	// Cache（CacheDir が空の場合はインメモリで動作する）
	CacheDir        string        `koanf:"cache_dir"`
	CacheGCInterval time.Duration `koanf:"cache_gc_interval" validate:"gt=0"`
	// CacheWatermarkInterval はDB上のスコア更新日時を確認して一覧キャッシュの世代を揃える間隔。
	CacheWatermarkInterval time.Duration `koanf:"cache_watermark_interval" validate:"gt=0"`

	// Recommend
	SettingsCacheTTL          time.Duration `koanf:"settings_cache_ttl" validate:"gt=0"`
	RecomputeSchedulerEnabled bool          `koanf:"recompute_scheduler_enabled"`
	RecomputeOnStartup        bool          `koanf:"recompute_on_startup"`
	RecomputeTimeout          time.Duration `koanf:"recompute_timeout" validate:"gt=0"`
	ExcerptLength             int           `koanf:"excerpt_length" validate:"gte=0"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `koanf:"rate_limit_general" validate:"gt=0"`
	RateLimitAdmin   int `koanf:"rate_limit_admin" validate:"gt=0"`
}

// defaultConfig はデフォルト値を設定したConfigを返す。
func defaultConfig() *Config {
	return &Config{
		DBMaxOpenConns:            10,
		ServerPort:                "8080",
		ShutdownTimeout:           30 * time.Second,
		LogLevel:                  "info",
		CORSAllowedOrigin:         "http://localhost:3000",
		CacheGCInterval:           10 * time.Minute,
		CacheWatermarkInterval:    30 * time.Second,
		SettingsCacheTTL:          300 * time.Second,
		RecomputeSchedulerEnabled: true,
		RecomputeOnStartup:        true,
		RecomputeTimeout:          10 * time.Minute,
		ExcerptLength:             120,
		RateLimitGeneral:          120,
		RateLimitAdmin:            10,
	}
}

// Load はデフォルト値・設定ファイル・環境変数を順に重ねてConfigを読み込む。
// 必須項目が未設定、または値が範囲外の場合はエラーを返す。
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransformFunc は環境変数名を設定キーに変換する。
// 空文字の環境変数は未設定として扱い、下位レイヤーの値を残す。
func envTransformFunc(key, value string) (string, interface{}) {
	if value == "" {
		return "", nil
	}
	return strings.ToLower(key), value
}

// Validate は必須項目と値の範囲を検証する。
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LoadDotEnv は .env ファイルの内容を環境変数に読み込む。
// 既に設定されている環境変数は上書きしない。ファイルが存在しない場合は何もしない。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}
