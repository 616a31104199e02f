package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func lookupFrom(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func requiredEnv() map[string]string {
	return map[string]string{
		"SUPABASE_URL":       "https://abc.supabase.co/",
		"SUPABASE_ANON_KEY":  "anon",
		"LIVEKIT_API_KEY":    "APIkey",
		"LIVEKIT_API_SECRET": "secret",
	}
}

func TestFromLookup_Defaults(t *testing.T) {
	t.Parallel()

	cfg, err := FromLookup(lookupFrom(requiredEnv()))
	if err != nil {
		t.Fatalf("設定の読み込みに失敗: %v", err)
	}

	if cfg.Env != EnvDevelopment {
		t.Errorf("Env: got %q, want %q", cfg.Env, EnvDevelopment)
	}
	if got := cfg.Addr(); got != "0.0.0.0:5000" {
		t.Errorf("Addr: got %q, want %q", got, "0.0.0.0:5000")
	}
	if !cfg.Debug || cfg.LogLevel != "debug" {
		t.Errorf("Debug/LogLevel: got %v/%q", cfg.Debug, cfg.LogLevel)
	}
	if want := []string{DefaultCORSOrigin}; !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Errorf("CORSOrigins: got %v, want %v", cfg.CORSOrigins, want)
	}
	if cfg.UpstreamTimeout != DefaultUpstreamTimeout {
		t.Errorf("UpstreamTimeout: got %v, want %v", cfg.UpstreamTimeout, DefaultUpstreamTimeout)
	}
	if cfg.Supabase.URL != "https://abc.supabase.co" {
		t.Errorf("Supabase.URL: got %q", cfg.Supabase.URL)
	}
	if cfg.LiveKit.ServerURL != DefaultLiveKitURL {
		t.Errorf("LiveKit.ServerURL: got %q, want %q", cfg.LiveKit.ServerURL, DefaultLiveKitURL)
	}
	if cfg.Supabase.DatabaseURL != "" {
		t.Errorf("Supabase.DatabaseURL: got %q, want empty", cfg.Supabase.DatabaseURL)
	}
}

func TestFromLookup_Production(t *testing.T) {
	t.Parallel()

	env := requiredEnv()
	env["APP_ENV"] = "Production"
	env["PORT"] = "8080"
	env["CORS_ORIGINS"] = "https://app.example.com, https://admin.example.com,,"
	env["UPSTREAM_TIMEOUT"] = "3s"

	cfg, err := FromLookup(lookupFrom(env))
	if err != nil {
		t.Fatalf("設定の読み込みに失敗: %v", err)
	}

	if !cfg.IsProduction() || cfg.Debug {
		t.Errorf("IsProduction/Debug: got %v/%v", cfg.IsProduction(), cfg.Debug)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %q, want %q", cfg.LogLevel, "warn")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port: got %d, want 8080", cfg.Port)
	}
	if want := []string{"https://app.example.com", "https://admin.example.com"}; !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Errorf("CORSOrigins: got %v, want %v", cfg.CORSOrigins, want)
	}
	if cfg.UpstreamTimeout != 3*time.Second {
		t.Errorf("UpstreamTimeout: got %v, want 3s", cfg.UpstreamTimeout)
	}
}

func TestFromLookup_DebugOverride(t *testing.T) {
	t.Parallel()

	env := requiredEnv()
	env["APP_ENV"] = EnvProduction
	env["DEBUG"] = "true"
	env["LOG_LEVEL"] = "INFO"

	cfg, err := FromLookup(lookupFrom(env))
	if err != nil {
		t.Fatalf("設定の読み込みに失敗: %v", err)
	}
	if !cfg.Debug || cfg.LogLevel != "info" {
		t.Errorf("Debug/LogLevel: got %v/%q, want true/info", cfg.Debug, cfg.LogLevel)
	}
}

func TestFromLookup_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(map[string]string)
		want   string
	}{
		{
			name:   "Supabaseの設定が無い",
			mutate: func(m map[string]string) { delete(m, "SUPABASE_URL"); delete(m, "SUPABASE_ANON_KEY") },
			want:   "SUPABASE_URL, SUPABASE_ANON_KEY",
		},
		{
			name:   "LiveKitのシークレットが空白",
			mutate: func(m map[string]string) { m["LIVEKIT_API_SECRET"] = "  " },
			want:   "LIVEKIT_API_SECRET",
		},
		{
			name:   "ポートが数値でない",
			mutate: func(m map[string]string) { m["PORT"] = "http" },
			want:   "PORT",
		},
		{
			name:   "ポートが範囲外",
			mutate: func(m map[string]string) { m["PORT"] = "70000" },
			want:   "PORT",
		},
		{
			name:   "DEBUGが不正",
			mutate: func(m map[string]string) { m["DEBUG"] = "maybe" },
			want:   "DEBUG",
		},
		{
			name:   "APP_ENVが不正",
			mutate: func(m map[string]string) { m["APP_ENV"] = "staging" },
			want:   "APP_ENV",
		},
		{
			name:   "タイムアウトが負",
			mutate: func(m map[string]string) { m["UPSTREAM_TIMEOUT"] = "-1s" },
			want:   "UPSTREAM_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := requiredEnv()
			tt.mutate(env)
			_, err := FromLookup(lookupFrom(env))
			if err == nil {
				t.Fatal("エラーが返されなかった")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("エラーに %q が含まれない: %v", tt.want, err)
			}
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "SUPABASE_URL=https://file.supabase.co\n" +
		"SUPABASE_ANON_KEY=file-anon\n" +
		"LIVEKIT_API_KEY=file-key\n" +
		"LIVEKIT_API_SECRET=file-secret\n" +
		"PORT=5055\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf(".envの作成に失敗: %v", err)
	}

	for _, key := range []string{"SUPABASE_URL", "SUPABASE_ANON_KEY", "LIVEKIT_API_KEY", "LIVEKIT_API_SECRET", "PORT"} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("環境変数の削除に失敗: %v", err)
		}
	}
	// 既存の環境変数は.envより優先される
	t.Setenv("LIVEKIT_API_KEY", "from-env")

	cfg, err := Load(filepath.Join(dir, "missing.env"), path)
	if err != nil {
		t.Fatalf("設定の読み込みに失敗: %v", err)
	}
	if cfg.Supabase.URL != "https://file.supabase.co" {
		t.Errorf("Supabase.URL: got %q", cfg.Supabase.URL)
	}
	if cfg.LiveKit.APIKey != "from-env" {
		t.Errorf("LiveKit.APIKey: got %q, want %q", cfg.LiveKit.APIKey, "from-env")
	}
	if cfg.Port != 5055 {
		t.Errorf("Port: got %d, want 5055", cfg.Port)
	}
}
