package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv           string
	AppName          string
	APIPrefix        string
	AppPort          string
	DatabaseURL      string
	CORSAllowOrigins []string

	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIChatModel       string
	OpenAIExtractionModel string
	AITimeoutSeconds      int

	PromptWindowSize       int
	ExtractionMessageLimit int

	TelegramBotToken      string
	TelegramWebhookSecret string
}

func Load() Config {
	_ = godotenv.Load(".env")

	return Config{
		AppEnv:      getEnv("APP_ENV", "local"),
		AppName:     getEnv("APP_NAME", "BiChat API"),
		APIPrefix:   getEnv("API_PREFIX", "/api"),
		AppPort:     getEnv("APP_PORT", "8000"),
		DatabaseURL: getEnv("DATABASE_URL", databaseURLFromParts()),
		CORSAllowOrigins: getEnvCSV(
			"CORS_ALLOW_ORIGINS",
			[]string{"http://localhost:3000", "http://127.0.0.1:3000"},
		),

		OpenAIAPIKey:          getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:         getEnv("OPENAI_BASE_URL", ""),
		OpenAIChatModel:       getEnv("OPENAI_CHAT_MODEL", "gpt-4.1-mini"),
		OpenAIExtractionModel: getEnv("OPENAI_EXTRACTION_MODEL", "gpt-4"),
		AITimeoutSeconds:      getEnvInt("AI_TIMEOUT_SECONDS", 20),

		PromptWindowSize:       getEnvInt("PROMPT_WINDOW_SIZE", 10),
		ExtractionMessageLimit: getEnvInt("EXTRACTION_MESSAGE_LIMIT", 50),

		TelegramBotToken:      getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramWebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", "telegram_secret"),
	}
}

// databaseURLFromParts assembles a connection URL from the discrete PG*
// variables so that deployments configured either way keep working.
func databaseURLFromParts() string {
	user := getEnv("PGUSER", "biuser")
	password := getEnv("PGPASSWORD", "bipassword")
	host := getEnv("PGHOST", "localhost")
	port := getEnv("PGPORT", "5432")
	database := getEnv("PGDATABASE", "bidb")
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		url.QueryEscape(user),
		url.QueryEscape(password),
		host,
		port,
		database,
	)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return errors.New("DATABASE_URL is required")
	}
	if strings.TrimSpace(c.APIPrefix) == "" || !strings.HasPrefix(c.APIPrefix, "/") {
		return errors.New("API_PREFIX must start with /")
	}
	if c.PromptWindowSize < 1 {
		return errors.New("PROMPT_WINDOW_SIZE must be at least 1")
	}
	if c.ExtractionMessageLimit < 1 {
		return errors.New("EXTRACTION_MESSAGE_LIMIT must be at least 1")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getEnvCSV(key string, fallback []string) []string {
	raw, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, item := range parts {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return parsed
}
