package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultImgurAPIURL   = "https://api.imgur.com/3/gallery/search/top/week"
	DefaultCryptoFeedURL = "https://cointelegraph.com/rss"
	DefaultGamingFeedURL = "https://feeds.feedburner.com/ign/games-all"
)

type Config struct {
	Port            int
	Environment     string
	Version         string
	ImgurClientID   string
	ImgurAPIURL     string
	CryptoFeedURL   string
	GamingFeedURL   string
	HTTPTimeout     time.Duration
	MongoURI        string
	MongoDatabase   string
	NATSUrl         string
	RefreshInterval time.Duration
}

func Load() *Config {
	// A missing .env is the normal case in containers.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[WARN] Failed to read .env: %v", err)
	}

	cfg := &Config{
		Port:            getIntEnv("PORT", 8080),
		Environment:     getEnv("ENVIRONMENT", "development"),
		Version:         getEnv("VERSION", "dev"),
		ImgurClientID:   getEnv("IMGUR_CLIENT_ID", ""),
		ImgurAPIURL:     getEnv("IMGUR_API_URL", DefaultImgurAPIURL),
		CryptoFeedURL:   getEnv("CRYPTO_FEED_URL", DefaultCryptoFeedURL),
		GamingFeedURL:   getEnv("GAMING_FEED_URL", DefaultGamingFeedURL),
		HTTPTimeout:     getDurationEnv("HTTP_TIMEOUT", "10s"),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DATABASE", "contentdb"),
		NATSUrl:         getEnv("NATS_URL", ""),
		RefreshInterval: getDurationEnv("REFRESH_INTERVAL", "10m"),
	}

	if cfg.ImgurClientID == "" {
		log.Printf("[WARN] IMGUR_CLIENT_ID is not set, meme requests will fail")
	}
	if cfg.MongoURI == "" {
		log.Printf("[INFO] MONGO_URI not set, using in-memory cache")
	}
	if cfg.NATSUrl == "" {
		log.Printf("[INFO] NATS_URL not set, refreshes run in-process")
	}

	log.Printf("Config loaded - Port: %d, Environment: %s, HTTPTimeout: %v, RefreshInterval: %v",
		cfg.Port, cfg.Environment, cfg.HTTPTimeout, cfg.RefreshInterval)

	return cfg
}

func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue string) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
		log.Printf("[WARN] Invalid duration for %s=%q, using %s", key, value, defaultValue)
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Printf("[WARN] Invalid integer for %s=%q, using %d", key, value, defaultValue)
	}
	return defaultValue
}
