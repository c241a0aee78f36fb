// Package config loads server settings from the environment.
//
// A .env file in the working directory is read first when present; real
// environment variables always win over it.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the server reads at startup.
type Config struct {
	Port    int
	BaseURL string

	// Store selection: MongoURI set → MongoDB, otherwise SQLite at DBPath.
	DBPath   string
	MongoURI string
	MongoDB  string

	// Throttle counter selection: RedisAddr set → Redis, otherwise in-memory.
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	ThrottleLimit  int
	ThrottleWindow time.Duration

	JWTSecret string

	GroqAPIKey  string
	GroqBaseURL string
	GroqModel   string

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	CORSOrigins []string
	LogLevel    slog.Level
}

// Load reads .env (if any) and the environment. It fails on malformed
// numbers or durations and on a missing or short JWT_SECRET.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}
	return fromEnv()
}

func fromEnv() (*Config, error) {
	port, err := getint("PORT", 8080)
	if err != nil {
		return nil, err
	}
	redisDB, err := getint("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	limit, err := getint("THROTTLE_LIMIT", 30)
	if err != nil {
		return nil, err
	}
	window, err := getduration("THROTTLE_WINDOW", 60*time.Second)
	if err != nil {
		return nil, err
	}
	level, err := parseLevel(getenv("LOG_LEVEL", "info"))
	if err != nil {
		return nil, err
	}

	baseURL := strings.TrimSuffix(getenv("BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/")

	cfg := &Config{
		Port:    port,
		BaseURL: baseURL,

		DBPath:   getenv("DB_PATH", "data/strategy-hub.db"),
		MongoURI: getenv("MONGO_URI", ""),
		MongoDB:  getenv("MONGO_DB", "quant-finance-hub"),

		RedisAddr:      getenv("REDIS_ADDR", ""),
		RedisPassword:  getenv("REDIS_PASSWORD", ""),
		RedisDB:        redisDB,
		ThrottleLimit:  limit,
		ThrottleWindow: window,

		JWTSecret: getenv("JWT_SECRET", ""),

		GroqAPIKey:  getenv("GROQ_API_KEY", ""),
		GroqBaseURL: getenv("GROQ_BASE_URL", "https://api.groq.com/openai/v1"),
		GroqModel:   getenv("GROQ_MODEL", "llama-3.3-70b-versatile"),

		GitHubClientID:     getenv("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: getenv("GITHUB_CLIENT_SECRET", ""),
		GitHubCallbackURL:  getenv("GITHUB_CALLBACK_URL", baseURL+"/auth/github/callback"),

		CORSOrigins: splitList(getenv("CORS_ORIGINS", "http://localhost:3000")),
		LogLevel:    level,
	}

	if len(cfg.JWTSecret) < 16 {
		return nil, errors.New("config: JWT_SECRET must be set to at least 16 characters")
	}
	if cfg.ThrottleLimit < 1 {
		return nil, fmt.Errorf("config: THROTTLE_LIMIT must be positive, got %d", cfg.ThrottleLimit)
	}
	return cfg, nil
}

// GitHubEnabled reports whether the OAuth routes should be registered.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

func getduration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, v, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive, got %s", key, v)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
