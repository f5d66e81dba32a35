package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type SourceMode string

const (
	ModeWebScrape SourceMode = "webscrape"
	ModeProtocol  SourceMode = "protocol"
)

type AppConfig struct {
	HTTPAddr   string
	CoreAPIURL string
	RedisURL   string

	TelegramAPIID       int
	TelegramAPIHash     string
	TelegramBotToken    string
	TelegramSessionFile string

	ScraperConcurrent    int
	ScraperTimeout       time.Duration
	ScraperMissThreshold int

	AlbumDebounce time.Duration
	LiveMaxAge    time.Duration

	PhotoMaxDim      int
	PhotoJPEGQuality int

	PollInterval    time.Duration
	DefaultChannels []string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := &AppConfig{
		HTTPAddr:             getEnv("HTTP_ADDR", ":8080"),
		CoreAPIURL:           getEnv("CORE_API_URL", "http://api:8000"),
		RedisURL:             getEnv("REDIS_URL", "redis://redis:6379/0"),
		TelegramAPIHash:      os.Getenv("TELEGRAM_API_HASH"),
		TelegramBotToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramSessionFile:  getEnv("TELEGRAM_SESSION_FILE", "sessions/channelgrab.session"),
		ScraperConcurrent:    getEnvInt("SCRAPER_CONCURRENT", 10),
		ScraperTimeout:       time.Duration(getEnvInt("SCRAPER_TIMEOUT_SEC", 15)) * time.Second,
		ScraperMissThreshold: getEnvInt("SCRAPER_MISS_THRESHOLD", 50),
		AlbumDebounce:        time.Duration(getEnvInt("ALBUM_DEBOUNCE_MS", 1500)) * time.Millisecond,
		LiveMaxAge:           time.Duration(getEnvInt("LIVE_MAX_AGE_SEC", 60)) * time.Second,
		PhotoMaxDim:          getEnvInt("PHOTO_MAX_DIM", 800),
		PhotoJPEGQuality:     getEnvInt("PHOTO_JPEG_QUALITY", 50),
		PollInterval:         time.Duration(getEnvInt("POLL_INTERVAL_SEC", 90)) * time.Second,
	}

	if raw := os.Getenv("TELEGRAM_API_ID"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_API_ID: %v", err)
		}
		cfg.TelegramAPIID = id
	}

	for _, c := range strings.Split(os.Getenv("DEFAULT_CHANNELS"), ",") {
		c = strings.TrimPrefix(strings.TrimSpace(c), "@")
		if c != "" {
			cfg.DefaultChannels = append(cfg.DefaultChannels, strings.ToLower(c))
		}
	}

	if cfg.ScraperConcurrent < 1 {
		cfg.ScraperConcurrent = 1
	}

	return cfg, nil
}

// Mode picks the acquisition backend: the MTProto client when API
// credentials are configured, the t.me web scraper otherwise.
func (c *AppConfig) Mode() SourceMode {
	if c.TelegramAPIID != 0 && c.TelegramAPIHash != "" {
		return ModeProtocol
	}
	return ModeWebScrape
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
