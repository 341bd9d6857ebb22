package config

import (
	"log"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type Config struct {
	Addr         string `env:"ADDR" envDefault:":8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"data/decisionlens.db"`

	// Auth settings
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET,required"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET,required"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"15m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`

	// LLM settings
	LLMProvider      LLMProvider   `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL"`
	OpenAIModel      string        `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	YandexOAuthToken string        `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string        `env:"YANDEX_FOLDER_ID"`
	AnalysisTimeout  time.Duration `env:"ANALYSIS_TIMEOUT" envDefault:"30s"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Maintenance
	TokenPurgeSpec string `env:"TOKEN_PURGE_SPEC" envDefault:"@hourly"`
}

func New() *Config {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	return cfg
}
