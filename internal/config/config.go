package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Wordware WordwareConfig
	Lock     LockConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	StreamLogFilePath  string // raw upstream chunks, debug level, file only
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
	EventsTopic        string
}

type DatabaseConfig struct {
	Connection string
}

type WordwareConfig struct {
	BaseURL       string
	APIKey        string
	RoastPromptID string // free tier
	FullPromptID  string // paid tier

	StreamTimeout     time.Duration
	DedupGraceWindow  time.Duration
	FallbackThreshold int
	WriteTimeout      time.Duration
}

type LockConfig struct {
	Driver string // "none", "memory" or "redis"
	TTL    time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			StreamLogFilePath:  getEnv("STREAM_LOG_FILE_PATH", "logs/wordware-stream.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3001"),
			NatsURL:            getEnv("NATS_URL", ""),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
			EventsTopic:        getEnv("WORDWARE_EVENTS_TOPIC", "WORDWARE_RUN_EVENTS"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Wordware: WordwareConfig{
			BaseURL:       getEnv("WORDWARE_BASE_URL", "https://app.wordware.ai"),
			APIKey:        getEnv("WORDWARE_API_KEY", ""),
			RoastPromptID: getEnv("WORDWARE_ROAST_PROMPT_ID", ""),
			FullPromptID:  getEnv("WORDWARE_FULL_PROMPT_ID", ""),

			StreamTimeout:     getEnvAsDuration("WORDWARE_STREAM_TIMEOUT", 5*time.Minute),
			DedupGraceWindow:  getEnvAsDuration("WORDWARE_DEDUP_GRACE", 3*time.Minute),
			FallbackThreshold: getEnvAsInt("WORDWARE_SCOPE_FALLBACK_THRESHOLD", 50),
			WriteTimeout:      getEnvAsDuration("WORDWARE_WRITE_TIMEOUT", 10*time.Second),
		},
		Lock: LockConfig{
			Driver: getEnv("RUN_LOCK_DRIVER", "none"),
			TTL:    getEnvAsDuration("RUN_LOCK_TTL", 6*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	return fallback
}
