// Package config loads pipeline configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	BaseURL string

	// Per-page timeout retry.
	MaxRetries  int
	WaitTimeout time.Duration

	// Pacing: uniform(BaseDelayMin, BaseDelayMax) * 2^attempt.
	BaseDelayMin time.Duration
	BaseDelayMax time.Duration

	// Outer retry of a whole term when it yielded a thin result set.
	// ThinResultThreshold 0 disables the heuristic.
	ThinResultThreshold int
	OuterRetries        int
	OuterDelayMin       time.Duration
	OuterDelayMax       time.Duration

	PageSize   int
	UserAgents []string
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	ProxyServer    string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type AuthConfig struct {
	Email    string
	Password string

	// Endpoint of the external captcha-solving service; empty disables
	// solving (a challenge then fails authentication immediately).
	CaptchaSolverURL string
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			BaseURL:             getEnvOrDefault("SCRAPER_BASE_URL", "https://www.amazon.com"),
			MaxRetries:          getIntOrDefault("SCRAPER_MAX_RETRIES", 5),
			WaitTimeout:         getDurationOrDefault("SCRAPER_WAIT_TIMEOUT", 30*time.Second),
			BaseDelayMin:        getDurationOrDefault("SCRAPER_BASE_DELAY_MIN", 2*time.Second),
			BaseDelayMax:        getDurationOrDefault("SCRAPER_BASE_DELAY_MAX", 5*time.Second),
			ThinResultThreshold: getIntOrDefault("SCRAPER_THIN_RESULT_THRESHOLD", 20),
			OuterRetries:        getIntOrDefault("SCRAPER_OUTER_RETRIES", 5),
			OuterDelayMin:       getDurationOrDefault("SCRAPER_OUTER_DELAY_MIN", 10*time.Second),
			OuterDelayMax:       getDurationOrDefault("SCRAPER_OUTER_DELAY_MAX", 20*time.Second),
			PageSize:            getIntOrDefault("SCRAPER_PAGE_SIZE", 60),
			UserAgents:          getStringSliceOrDefault("SCRAPER_USER_AGENTS", nil),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 60*time.Second),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "America/New_York"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			ProxyServer:    getEnvOrDefault("BROWSER_PROXY", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "amazon_insights"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:scrape_events"),
		},
		Auth: AuthConfig{
			Email:            getEnvOrDefault("AMAZON_EMAIL", ""),
			Password:         getEnvOrDefault("AMAZON_PASSWORD", ""),
			CaptchaSolverURL: getEnvOrDefault("CAPTCHA_SOLVER_URL", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("SCRAPER_BASE_URL is required")
	}

	if c.Scraper.MaxRetries < 1 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES must be at least 1")
	}

	if c.Scraper.BaseDelayMin > c.Scraper.BaseDelayMax {
		return fmt.Errorf("SCRAPER_BASE_DELAY_MIN cannot be greater than SCRAPER_BASE_DELAY_MAX")
	}

	if c.Scraper.OuterDelayMin > c.Scraper.OuterDelayMax {
		return fmt.Errorf("SCRAPER_OUTER_DELAY_MIN cannot be greater than SCRAPER_OUTER_DELAY_MAX")
	}

	if c.Scraper.ThinResultThreshold < 0 {
		return fmt.Errorf("SCRAPER_THIN_RESULT_THRESHOLD cannot be negative")
	}

	if c.Scraper.PageSize < 1 {
		return fmt.Errorf("SCRAPER_PAGE_SIZE must be at least 1")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
