package bootstrap

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ServerAddr string
	LogLevel   string

	GoogleAPIKey       string
	GeminiModel        string
	GeminiVoice        string
	GeminiLanguage     string
	GeminiPersona      string
	LiveConnectTimeout time.Duration
	LivePollInterval   time.Duration

	AllowedOrigins []string

	RateLimitRPS   float64
	RateLimitBurst int

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ChatRoom      string

	StaticDir string
	IndexHTML string
}

func LoadConfig() *Config {
	return &Config{
		ServerAddr: getEnv("SERVER_ADDR", ":8000"),
		LogLevel:   getEnv("LOG_LEVEL", "info"),

		GoogleAPIKey:       getEnv("GOOGLE_API_KEY", ""),
		GeminiModel:        getEnv("GEMINI_MODEL", ""),
		GeminiVoice:        getEnv("GEMINI_VOICE", ""),
		GeminiLanguage:     getEnv("GEMINI_LANGUAGE", ""),
		GeminiPersona:      getEnv("GEMINI_PERSONA", ""),
		LiveConnectTimeout: getEnvDuration("LIVE_CONNECT_TIMEOUT", 30*time.Second),
		LivePollInterval:   getEnvDuration("LIVE_POLL_INTERVAL", 100*time.Millisecond),

		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		RateLimitRPS:   getEnvFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst: getEnvInt("RATE_LIMIT_BURST", 10),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		ChatRoom:      getEnv("CHAT_ROOM", "lobby"),

		StaticDir: getEnv("STATIC_DIR", "./static"),
		IndexHTML: getEnv("INDEX_HTML", "./static/index.html"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
