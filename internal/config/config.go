package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything the binaries need, read once at startup.
type Config struct {
	DataDir        string
	SitesDir       string
	RequestTimeout time.Duration
	UserAgent      string
	ChromeBin      string
	TrackHistory   bool
	ScrapeInterval time.Duration
	LegacyFile     string

	DatabaseDSN string

	RedisAddr      string
	RedisPassword  string
	CacheTTL       time.Duration
	ScrapeCooldown time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	BotToken string
	APIPort  string
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Env file is not found, using environment")
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		DataDir:       getEnv("DATA_DIR", "data"),
		SitesDir:      getEnv("SITES_DIR", "sites"),
		UserAgent:     getEnv("USER_AGENT", ""),
		ChromeBin:     getEnv("CHROME_BIN", ""),
		LegacyFile:    getEnv("LEGACY_FILE", ""),
		DatabaseDSN:   getEnv("DATABASE_DSN", "host=localhost user=postgres password=password dbname=wohnung_hunter port=5432 sslmode=disable"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		KafkaBrokers:  splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "wohnung-events"),
		BotToken:      getEnv("BOT_TOKEN", ""),
		APIPort:       getEnv("API_PORT", "8080"),
	}

	var err error
	if cfg.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ScrapeInterval, err = getEnvDuration("SCRAPE_INTERVAL", 0); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getEnvDuration("CACHE_TTL", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.ScrapeCooldown, err = getEnvDuration("SCRAPE_COOLDOWN", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TrackHistory, err = getEnvBool("TRACK_HISTORY", true); err != nil {
		return nil, err
	}

	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "5m") or plain seconds.
func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return d, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q: %w", key, val, err)
	}
	return b, nil
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
