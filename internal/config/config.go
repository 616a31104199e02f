// Package config は環境変数からゲートウェイの設定を読み込む。
//
// 起動時に一度だけ読み込み、以降は変更しない。.envファイルがあれば先に読み込むが、
// 既に設定されている環境変数は上書きしない。
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// 実行環境の名前。
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTesting     = "testing"
)

// デフォルト値。
const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 5000
	DefaultCORSOrigin      = "http://localhost:3000"
	DefaultLiveKitURL      = "ws://localhost:7880"
	DefaultUpstreamTimeout = 10 * time.Second
	DefaultServiceName     = "tutorlink-gateway"
)

// Config はゲートウェイ全体の設定。
type Config struct {
	// Env は実行環境（development / production / testing）。
	Env string
	// ServiceName はヘルスチェック等で返すサービス名。
	ServiceName string
	// Host はリッスンするホスト。
	Host string
	// Port はリッスンするポート。
	Port int
	// Debug はデバッグ用エンドポイントを有効にするかどうか。
	Debug bool
	// LogLevel はログレベル（debug / info / warn / error）。
	LogLevel string
	// CORSOrigins はクロスオリジンを許可するオリジン。
	CORSOrigins []string
	// UpstreamTimeout は外部サービス呼び出しのタイムアウト。
	UpstreamTimeout time.Duration

	Supabase SupabaseConfig
	LiveKit  LiveKitConfig
}

// SupabaseConfig は認証・プロフィールを担うSupabaseの接続設定。
type SupabaseConfig struct {
	URL            string
	AnonKey        string
	ServiceRoleKey string
	// DatabaseURL が設定されている場合、プロフィールはPostgreSQLへ直接読み書きする。
	DatabaseURL string
}

// LiveKitConfig はビデオルームを担うLiveKitの接続設定。
type LiveKitConfig struct {
	ServerURL string
	APIKey    string
	APISecret string
}

// Addr はリッスンアドレス（host:port）を返す。
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// IsProduction は本番環境かどうかを返す。
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Load は環境変数から設定を読み込む。
// envFilesに指定した.envファイルは存在する場合のみ読み込む。
func Load(envFiles ...string) (Config, error) {
	for _, f := range envFiles {
		if f == "" {
			continue
		}
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("envファイルの確認に失敗: %w", err)
		}
		if err := godotenv.Load(f); err != nil {
			return Config{}, fmt.Errorf("envファイルの読み込みに失敗: %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup はlookup関数から設定を組み立てる。テストでは環境変数の代わりにmapを渡す。
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(key, defaultValue string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return defaultValue
	}

	env := strings.ToLower(get("APP_ENV", EnvDevelopment))
	switch env {
	case EnvDevelopment, EnvProduction, EnvTesting:
	default:
		return Config{}, fmt.Errorf("APP_ENVの値が不正です: %q", env)
	}

	cfg := Config{
		Env:         env,
		ServiceName: get("SERVICE_NAME", DefaultServiceName),
		Host:        get("HOST", DefaultHost),
		LogLevel:    strings.ToLower(get("LOG_LEVEL", defaultLogLevel(env))),
		CORSOrigins: splitList(get("CORS_ORIGINS", DefaultCORSOrigin)),
		Supabase: SupabaseConfig{
			URL:            strings.TrimRight(get("SUPABASE_URL", ""), "/"),
			AnonKey:        get("SUPABASE_ANON_KEY", ""),
			ServiceRoleKey: get("SUPABASE_SERVICE_ROLE_KEY", ""),
			DatabaseURL:    get("SUPABASE_DB_URL", ""),
		},
		LiveKit: LiveKitConfig{
			ServerURL: get("LIVEKIT_SERVER_URL", DefaultLiveKitURL),
			APIKey:    get("LIVEKIT_API_KEY", ""),
			APISecret: get("LIVEKIT_API_SECRET", ""),
		},
	}

	port, err := strconv.Atoi(get("PORT", strconv.Itoa(DefaultPort)))
	if err != nil || port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("PORTの値が不正です: %q", get("PORT", ""))
	}
	cfg.Port = port

	debug, err := strconv.ParseBool(get("DEBUG", strconv.FormatBool(env != EnvProduction)))
	if err != nil {
		return Config{}, fmt.Errorf("DEBUGの値が不正です: %w", err)
	}
	cfg.Debug = debug

	timeout, err := time.ParseDuration(get("UPSTREAM_TIMEOUT", DefaultUpstreamTimeout.String()))
	if err != nil || timeout <= 0 {
		return Config{}, fmt.Errorf("UPSTREAM_TIMEOUTの値が不正です: %q", get("UPSTREAM_TIMEOUT", ""))
	}
	cfg.UpstreamTimeout = timeout

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate は必須の設定が揃っているかを検証する。
func (c Config) Validate() error {
	var missing []string
	if c.Supabase.URL == "" {
		missing = append(missing, "SUPABASE_URL")
	}
	if c.Supabase.AnonKey == "" {
		missing = append(missing, "SUPABASE_ANON_KEY")
	}
	if c.LiveKit.APIKey == "" {
		missing = append(missing, "LIVEKIT_API_KEY")
	}
	if c.LiveKit.APISecret == "" {
		missing = append(missing, "LIVEKIT_API_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("必須の環境変数が設定されていません: %s", strings.Join(missing, ", "))
	}
	return nil
}

// defaultLogLevel は実行環境ごとのデフォルトログレベルを返す。
func defaultLogLevel(env string) string {
	if env == EnvProduction {
		return "warn"
	}
	return "debug"
}

// splitList はカンマ区切りの文字列を分割し、空要素を取り除く。
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
