// Package config loads runtime configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Provider names accepted by PROVIDER.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Config is the full process configuration.
type Config struct {
	Port      string
	PublicURL string

	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string

	SystemPrompt string
	Voice        string

	MaxConcurrentCalls int
	ConnectTimeout     time.Duration
	InterruptTimeout   time.Duration
	DrainTimeout       time.Duration
	ChunkDuration      time.Duration

	BargeInMode      string
	BargeInThreshold float64
	BargeInMinFrames int

	TokenSecret string
	TokenTTL    time.Duration

	TranscribeEnabled  bool
	TranscribeLanguage string
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		PublicURL:          os.Getenv("PUBLIC_URL"),
		Provider:           getEnv("PROVIDER", ProviderGemini),
		GeminiAPIKey:       os.Getenv("GEMINI_API_KEY"),
		GeminiModel:        getEnv("GEMINI_MODEL", "gemini-2.0-flash-exp"),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-realtime-preview"),
		SystemPrompt:       getEnv("SYSTEM_PROMPT", "You are a helpful voice assistant on a phone call. Keep responses short and conversational."),
		Voice:              os.Getenv("VOICE"),
		BargeInMode:        getEnv("BARGE_IN_MODE", "energy"),
		TokenSecret:        os.Getenv("TOKEN_SECRET"),
		TranscribeLanguage: getEnv("TRANSCRIBE_LANGUAGE", "en-US"),
	}

	var err error
	if cfg.MaxConcurrentCalls, err = getInt("MAX_CONCURRENT_CALLS", 50); err != nil {
		return nil, err
	}
	if cfg.BargeInMinFrames, err = getInt("BARGE_IN_MIN_FRAMES", 3); err != nil {
		return nil, err
	}
	if cfg.BargeInThreshold, err = getFloat("BARGE_IN_THRESHOLD", 0.018); err != nil {
		return nil, err
	}
	if cfg.ConnectTimeout, err = getDuration("CONNECT_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.InterruptTimeout, err = getDuration("INTERRUPT_TIMEOUT", 750*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.DrainTimeout, err = getDuration("DRAIN_TIMEOUT", 1500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ChunkDuration, err = getDuration("CHUNK_DURATION", 120*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	cfg.TranscribeEnabled = getEnv("TRANSCRIBE_ENABLED", "false") == "true"

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("config: PROVIDER=gemini requires GEMINI_API_KEY")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("config: PROVIDER=openai requires OPENAI_API_KEY")
		}
	default:
		return fmt.Errorf("config: unknown PROVIDER %q", c.Provider)
	}
	if c.TokenSecret == "" {
		return fmt.Errorf("config: TOKEN_SECRET is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
