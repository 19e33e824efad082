package config

import (
	"os"
	"testing"
	"time"
)

func TestGetEnvOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal string
		expected   string
	}{
		{"uses env value", "TEST_VAR_1", "hello", "default", "hello"},
		{"uses default when empty", "TEST_VAR_2", "", "default", "default"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv(tc.key, tc.envValue)
			}

			result := getEnvOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %q, got %q", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsIntOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		envValue   string
		defaultVal int
		expected   int
	}{
		{"parses integer", "TEST_INT_1", "42", 10, 42},
		{"uses default for empty", "TEST_INT_2", "", 10, 10},
		{"uses default for non-numeric", "TEST_INT_3", "abc", 10, 10},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv(tc.key, tc.envValue)
			}

			result := getEnvAsIntOrDefault(tc.key, tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %d, got %d", tc.expected, result)
			}
		})
	}
}

func TestGetEnvAsDurationOrDefault(t *testing.T) {
	tests := []struct {
		name       string
		envValue   string
		defaultVal time.Duration
		expected   time.Duration
	}{
		{"parses duration", "90s", time.Minute, 90 * time.Second},
		{"uses default for empty", "", time.Minute, time.Minute},
		{"uses default for garbage", "soon", time.Minute, time.Minute},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.envValue != "" {
				t.Setenv("TEST_DURATION", tc.envValue)
			}

			result := getEnvAsDurationOrDefault("TEST_DURATION", tc.defaultVal)
			if result != tc.expected {
				t.Errorf("Expected %v, got %v", tc.expected, result)
			}
		})
	}
}

func TestLoad_PrefersViteKey(t *testing.T) {
	t.Setenv("VITE_OPENAI_API_KEY", "vite-key")
	t.Setenv("OPENAI_API_KEY", "plain-key")

	cfg := Load(os.DevNull)
	if cfg.OpenAIAPIKey != "vite-key" {
		t.Errorf("Expected VITE_OPENAI_API_KEY to win, got %q", cfg.OpenAIAPIKey)
	}
}

func TestLoad_FallsBackToOpenAIKey(t *testing.T) {
	t.Setenv("VITE_OPENAI_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "plain-key")

	cfg := Load(os.DevNull)
	if cfg.OpenAIAPIKey != "plain-key" {
		t.Errorf("Expected OPENAI_API_KEY fallback, got %q", cfg.OpenAIAPIKey)
	}
}

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "OPENAI_TTS_MODEL", "OPENAI_LLM_MODEL", "CHAT_MAX_TOKENS", "OPENAI_REALTIME_MODEL"} {
		t.Setenv(key, "")
	}

	cfg := Load(os.DevNull)
	if cfg.Port != "3001" {
		t.Errorf("Expected default port 3001, got %q", cfg.Port)
	}
	if cfg.TTSModel != "tts-1" || cfg.TTSVoice != "alloy" {
		t.Errorf("unexpected TTS defaults: %q/%q", cfg.TTSModel, cfg.TTSVoice)
	}
	if cfg.LLMModel != "gpt-4o" || cfg.ChatMaxTokens != 150 {
		t.Errorf("unexpected chat defaults: %q/%d", cfg.LLMModel, cfg.ChatMaxTokens)
	}
	if cfg.RealtimeModel != "gpt-4o-realtime-preview" {
		t.Errorf("unexpected realtime model %q", cfg.RealtimeModel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"openai provider", Config{LLMProvider: "openai", MaxVoiceSessions: 1}, false},
		{"gemini without key", Config{LLMProvider: "gemini", MaxVoiceSessions: 1}, true},
		{"gemini with key", Config{LLMProvider: "gemini", GeminiAPIKey: "k", MaxVoiceSessions: 1}, false},
		{"unknown provider", Config{LLMProvider: "ollama", MaxVoiceSessions: 1}, true},
		{"no sessions", Config{LLMProvider: "openai"}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
