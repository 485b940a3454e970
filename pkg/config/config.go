package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type DBConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	MaxRetries   int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// Enabled reports whether a redis address was configured.
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

type LedgerConfig struct {
	Location      *time.Location
	MinorUnits    int32
	ReportTimeout time.Duration
}

type Config struct {
	HTTPAddr string
	LogDir   string
	Storage  string
	DB       DBConfig
	Redis    RedisConfig
	Ledger   LedgerConfig
}

// Load reads config.env when present and then the process environment.
// Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = filepath.Join("config.env")
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),
		LogDir:   getEnv("LOG_DIR", "logs"),
		Storage:  strings.ToLower(getEnv("STORAGE", StoragePostgres)),
	}

	if cfg.Storage != StoragePostgres && cfg.Storage != StorageMemory {
		return nil, fmt.Errorf("invalid STORAGE: %q", cfg.Storage)
	}

	db, err := loadDB()
	if err != nil {
		return nil, err
	}
	cfg.DB = *db

	redisDB, err := getInt("REDIS_DB", 0)
	if err != nil {
		return nil, err
	}
	ttl, err := getDuration("BALANCE_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg.Redis = RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
		TTL:      ttl,
	}

	loc, err := time.LoadLocation(getEnv("LEDGER_TIMEZONE", "Asia/Ho_Chi_Minh"))
	if err != nil {
		return nil, fmt.Errorf("invalid LEDGER_TIMEZONE: %w", err)
	}
	minorUnits, err := getInt("CURRENCY_MINOR_UNITS", 0)
	if err != nil {
		return nil, err
	}
	if minorUnits < 0 || minorUnits > 4 {
		return nil, fmt.Errorf("invalid CURRENCY_MINOR_UNITS: %d", minorUnits)
	}
	reportTimeout, err := getDuration("REPORT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Ledger = LedgerConfig{
		Location:      loc,
		MinorUnits:    int32(minorUnits),
		ReportTimeout: reportTimeout,
	}

	return cfg, nil
}

func loadDB() (*DBConfig, error) {
	port, err := getInt("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 20)
	if err != nil {
		return nil, err
	}

	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}

	maxRetries, err := getInt("TX_MAX_RETRIES", 3)
	if err != nil {
		return nil, err
	}

	return &DBConfig{
		Host:         getEnv("DB_HOST", "localhost"),
		Port:         port,
		User:         getEnv("DB_USER", "postgres"),
		Password:     os.Getenv("DB_PASSWORD"),
		Name:         getEnv("DB_NAME", "cashbook"),
		SSLMode:      getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns: maxOpen,
		MaxIdleConns: maxIdle,
		MaxRetries:   maxRetries,
	}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
