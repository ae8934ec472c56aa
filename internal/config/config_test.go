package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"PORT", "ARK_API_KEY", "ARK_ACCESS_KEY", "ARK_SECRET_KEY", "Model",
		"ARK_BASE_URL", "ARK_REGION", "ARK_TEMPERATURE", "ARK_TOP_P",
		"ARK_MAX_TOKENS", "ARK_STREAM",
		"SPEECH_APP_ID", "SPEECH_ACCESS_TOKEN", "SPEECH_TIMEOUT",
		"SPEECH_TTS_SPEED", "SPEECH_TTS_VOLUME",
		"DATABASE_URL",
		"REALTIME_SILENCE_MS", "REALTIME_POLL_MS", "REALTIME_CALL_TIMEOUT",
		"CHAT_CONTEXT_WINDOW",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Fatalf("default addr = %q", cfg.Server.Addr)
	}
	if cfg.AI.Enabled() {
		t.Fatal("AI should be disabled without credentials")
	}
	if cfg.Speech.Enabled {
		t.Fatal("speech should be disabled without credentials")
	}
	if cfg.Database.Enabled() {
		t.Fatal("database should be disabled without DATABASE_URL")
	}
	if cfg.Realtime.SilenceThreshold != 1500*time.Millisecond {
		t.Fatalf("default silence threshold = %v", cfg.Realtime.SilenceThreshold)
	}
	if cfg.Realtime.PollInterval != 300*time.Millisecond {
		t.Fatalf("default poll interval = %v", cfg.Realtime.PollInterval)
	}
	if cfg.Realtime.CallTimeout != 30*time.Second {
		t.Fatalf("default call timeout = %v", cfg.Realtime.CallTimeout)
	}
	if cfg.Realtime.HistoryLimit != 10 {
		t.Fatalf("default history limit = %d", cfg.Realtime.HistoryLimit)
	}
	if !cfg.AI.StreamResponse {
		t.Fatal("streaming should default to enabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ARK_API_KEY", "test-key")
	t.Setenv("Model", "doubao-pro")
	t.Setenv("ARK_TEMPERATURE", "0.6")
	t.Setenv("ARK_MAX_TOKENS", "512")
	t.Setenv("ARK_STREAM", "false")
	t.Setenv("SPEECH_APP_ID", "app-1")
	t.Setenv("SPEECH_ACCESS_TOKEN", "token-1")
	t.Setenv("SPEECH_TTS_SPEED", "1.2")
	t.Setenv("DATABASE_URL", "postgres://localhost/echotalk")
	t.Setenv("REALTIME_SILENCE_MS", "800")
	t.Setenv("REALTIME_POLL_MS", "100")
	t.Setenv("REALTIME_CALL_TIMEOUT", "10")
	t.Setenv("CHAT_CONTEXT_WINDOW", "6")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if !cfg.AI.Enabled() {
		t.Fatal("AI should be enabled with api key and model")
	}
	if cfg.AI.Temperature == nil || *cfg.AI.Temperature != 0.6 {
		t.Fatalf("temperature = %v", cfg.AI.Temperature)
	}
	if cfg.AI.MaxTokens == nil || *cfg.AI.MaxTokens != 512 {
		t.Fatalf("max tokens = %v", cfg.AI.MaxTokens)
	}
	if cfg.AI.StreamResponse {
		t.Fatal("streaming should be disabled")
	}
	if !cfg.Speech.Enabled {
		t.Fatal("speech should be enabled")
	}
	if cfg.Speech.TTSSpeed != 1.2 {
		t.Fatalf("tts speed = %v", cfg.Speech.TTSSpeed)
	}
	if !cfg.Database.Enabled() || cfg.Database.URL != "postgres://localhost/echotalk" {
		t.Fatalf("database config = %+v", cfg.Database)
	}
	if cfg.Realtime.SilenceThreshold != 800*time.Millisecond {
		t.Fatalf("silence threshold = %v", cfg.Realtime.SilenceThreshold)
	}
	if cfg.Realtime.PollInterval != 100*time.Millisecond {
		t.Fatalf("poll interval = %v", cfg.Realtime.PollInterval)
	}
	if cfg.Realtime.CallTimeout != 10*time.Second {
		t.Fatalf("call timeout = %v", cfg.Realtime.CallTimeout)
	}
	if cfg.Realtime.HistoryLimit != 6 {
		t.Fatalf("history limit = %d", cfg.Realtime.HistoryLimit)
	}
}

func TestLoadServerConfigVariants(t *testing.T) {
	clearEnv(t)

	t.Setenv("PORT", ":9000")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}

	t.Setenv("PORT", "127.0.0.1:9001")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:9001" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}

	t.Setenv("PORT", "bad port")
	if _, err := Load(); err == nil {
		t.Fatal("port with space should fail")
	}
}

func TestLoadRejectsInvalidNumbers(t *testing.T) {
	clearEnv(t)

	t.Setenv("ARK_TEMPERATURE", "hot")
	if _, err := Load(); err == nil {
		t.Fatal("invalid temperature should fail")
	}

	clearEnv(t)
	t.Setenv("REALTIME_SILENCE_MS", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("invalid silence ms should fail")
	}

	clearEnv(t)
	t.Setenv("ARK_STREAM", "maybe")
	if _, err := Load(); err == nil {
		t.Fatal("invalid bool should fail")
	}
}

func TestAIConfigEnabled(t *testing.T) {
	cases := []struct {
		name string
		cfg  AIConfig
		want bool
	}{
		{name: "api key", cfg: AIConfig{APIKey: "k", Model: "m"}, want: true},
		{name: "ak/sk", cfg: AIConfig{AccessKey: "a", SecretKey: "s", Model: "m"}, want: true},
		{name: "missing model", cfg: AIConfig{APIKey: "k"}, want: false},
		{name: "missing secret", cfg: AIConfig{AccessKey: "a", Model: "m"}, want: false},
		{name: "empty", cfg: AIConfig{}, want: false},
	}
	for _, tc := range cases {
		if got := tc.cfg.Enabled(); got != tc.want {
			t.Errorf("%s: Enabled() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
