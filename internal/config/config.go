package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	ReportCacheTTLSeconds int
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	LogFormat             string
	LogFile               string
	Timezone              string
	StoreBaseURL          string
	StoreToken            string
	StoreUsername         string
	StorePassword         string
	StoreTimeoutSeconds   int
	StatsRefreshDelayMS   int
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		ReportCacheTTLSeconds: positiveInt("REPORT_CACHE_TTL_SECONDS", 3600),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: positiveInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ManagerPIN:            strings.TrimSpace(os.Getenv("MANAGER_PIN")),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		LogFormat:             getEnv("LOG_FORMAT", "json"),
		LogFile:               os.Getenv("LOG_FILE"),
		Timezone:              getEnv("TIMEZONE", "Asia/Manila"),
		StoreBaseURL:          getEnv("STORE_BASE_URL", "http://127.0.0.1:8080"),
		StoreToken:            strings.TrimSpace(os.Getenv("STORE_TOKEN")),
		StoreUsername:         strings.TrimSpace(os.Getenv("STORE_USERNAME")),
		StorePassword:         os.Getenv("STORE_PASSWORD"),
		StoreTimeoutSeconds:   positiveInt("STORE_TIMEOUT_SECONDS", 10),
		StatsRefreshDelayMS:   positiveInt("STATS_REFRESH_DELAY_MS", 800),
	}

	return cfg
}

// LoadDotEnv copies variables from .env (or files) into the environment. Variables
// that are already set win, and a missing file is ignored.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Location resolves Timezone, falling back to the host zone when it is unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutSeconds) * time.Second
}

func (c Config) StatsRefreshDelay() time.Duration {
	return time.Duration(c.StatsRefreshDelayMS) * time.Millisecond
}

func (c Config) ReportCacheTTL() time.Duration {
	return time.Duration(c.ReportCacheTTLSeconds) * time.Second
}

func positiveInt(key string, fallback int) int {
	val, err := strconv.Atoi(getEnv(key, strconv.Itoa(fallback)))
	if err != nil || val < 1 {
		return fallback
	}
	return val
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}
