package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// OpenAI
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OpenAISocksProxy  string
	OpenAIMaxRetries  int
	STTModel          string
	LLMModel          string
	TTSModel          string
	TTSVoice          string
	RealtimeModel     string
	RealtimeVoice     string
	ChatTemperature   float64
	ChatMaxTokens     int
	AssistantLanguage string
	AssistantPrompt   string
	TextDeltaInterval time.Duration

	// Alternative LLM for voice sessions
	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string

	// Redis (optional)
	RedisURL    string
	TTSCacheTTL time.Duration

	// Database (optional)
	DatabaseURL string

	// Storage
	StoragePath string
	AudioTTL    time.Duration

	// Access
	AuthSecret         string
	RateLimitPerMinute int
	MaxVoiceSessions   int
	ExchangeWorkers    int

	// Frontend
	FrontendURL string

	LogLevel string
}

// Load reads envFile (if present) and then the process environment.
func Load(envFile string) *Config {
	if envFile == "" {
		godotenv.Load()
	} else {
		godotenv.Load(envFile)
	}

	cfg := &Config{
		Port: getEnvOrDefault("PORT", "3001"),
		Env:  getEnvOrDefault("ENV", "development"),

		OpenAIAPIKey:      firstEnv("VITE_OPENAI_API_KEY", "OPENAI_API_KEY"),
		OpenAIBaseURL:     getEnvOrDefault("OPENAI_BASE_URL", ""),
		OpenAISocksProxy:  getEnvOrDefault("OPENAI_SOCKS_PROXY", ""),
		OpenAIMaxRetries:  getEnvAsIntOrDefault("OPENAI_MAX_RETRIES", 2),
		STTModel:          getEnvOrDefault("OPENAI_STT_MODEL", "whisper-1"),
		LLMModel:          getEnvOrDefault("OPENAI_LLM_MODEL", "gpt-4o"),
		TTSModel:          getEnvOrDefault("OPENAI_TTS_MODEL", "tts-1"),
		TTSVoice:          getEnvOrDefault("OPENAI_TTS_VOICE", "alloy"),
		RealtimeModel:     getEnvOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview"),
		RealtimeVoice:     getEnvOrDefault("OPENAI_REALTIME_VOICE", "alloy"),
		ChatTemperature:   getEnvAsFloatOrDefault("CHAT_TEMPERATURE", 0.7),
		ChatMaxTokens:     getEnvAsIntOrDefault("CHAT_MAX_TOKENS", 150),
		AssistantLanguage: getEnvOrDefault("ASSISTANT_LANGUAGE", "nl"),
		AssistantPrompt:   getEnvOrDefault("ASSISTANT_SYSTEM_PROMPT", ""),
		TextDeltaInterval: getEnvAsDurationOrDefault("TEXT_DELTA_INTERVAL", 5*time.Millisecond),

		LLMProvider:  getEnvOrDefault("LLM_PROVIDER", "openai"),
		GeminiAPIKey: getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:  getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),

		RedisURL:    getEnvOrDefault("REDIS_URL", ""),
		TTSCacheTTL: getEnvAsDurationOrDefault("TTS_CACHE_TTL", 24*time.Hour),

		DatabaseURL: getEnvOrDefault("DATABASE_URL", ""),

		StoragePath: getEnvOrDefault("STORAGE_PATH", "./audio"),
		AudioTTL:    getEnvAsDurationOrDefault("AUDIO_TTL", time.Hour),

		AuthSecret:         getEnvOrDefault("AUTH_SECRET", ""),
		RateLimitPerMinute: getEnvAsIntOrDefault("RATE_LIMIT_PER_MINUTE", 120),
		MaxVoiceSessions:   getEnvAsIntOrDefault("MAX_VOICE_SESSIONS", 100),
		ExchangeWorkers:    getEnvAsIntOrDefault("EXCHANGE_WORKERS", 2),

		FrontendURL: getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Validate reports settings that make the server unusable. A missing OpenAI
// key is not one of them: every proxy route has a fallback.
func (c *Config) Validate() error {
	switch c.LLMProvider {
	case "openai":
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("LLM_PROVIDER=gemini requires GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
	if c.MaxVoiceSessions <= 0 {
		return fmt.Errorf("MAX_VOICE_SESSIONS must be positive")
	}
	return nil
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	return ""
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvAsFloatOrDefault(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvAsDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
