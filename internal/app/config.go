package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds runtime wiring options for building the app. Every field has
// an environment override; a .env file in the working directory is read
// first when present.
type Config struct {
	Home         string // state directory, e.g. $HOME/.keymesh
	DirectoryURL string // directory base URL, e.g. http://127.0.0.1:8420
	UserID       string
	DeviceID     uint32

	HTTPTimeout         time.Duration
	SignedPreKeyMaxAge  time.Duration
	SignedPreKeyGrace   time.Duration
	ReplenishThreshold  int
	FanOutLimit         int
	MaintenanceInterval time.Duration
	LogLevel            string
}

const (
	envHome         = "KEYMESH_HOME"
	envDirectoryURL = "KEYMESH_DIRECTORY_URL"
	envUser         = "KEYMESH_USER"
	envDevice       = "KEYMESH_DEVICE"
	envHTTPTimeout  = "KEYMESH_HTTP_TIMEOUT"
	envSPKMaxAge    = "KEYMESH_SPK_MAX_AGE"
	envSPKGrace     = "KEYMESH_SPK_GRACE"
	envThreshold    = "KEYMESH_REPLENISH_THRESHOLD"
	envFanOut       = "KEYMESH_FANOUT_LIMIT"
	envMaintenance  = "KEYMESH_MAINTENANCE_INTERVAL"
	envLogLevel     = "KEYMESH_LOG_LEVEL"
)

// LoadConfig reads .env (if any) and the environment, applying defaults for
// everything unset.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Home:                os.Getenv(envHome),
		DirectoryURL:        getenv(envDirectoryURL, "http://127.0.0.1:8420"),
		UserID:              os.Getenv(envUser),
		DeviceID:            1,
		HTTPTimeout:         10 * time.Second,
		SignedPreKeyMaxAge:  48 * time.Hour,
		SignedPreKeyGrace:   7 * 24 * time.Hour,
		ReplenishThreshold:  10,
		FanOutLimit:         8,
		MaintenanceInterval: time.Hour,
		LogLevel:            getenv(envLogLevel, "info"),
	}

	if cfg.Home == "" {
		dir, err := os.UserHomeDir()
		if err != nil {
			return Config{}, err
		}
		cfg.Home = filepath.Join(dir, ".keymesh")
	}

	if v := os.Getenv(envDevice); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil || n == 0 {
			return Config{}, fmt.Errorf("%s: %q is not a positive device id", envDevice, v)
		}
		cfg.DeviceID = uint32(n)
	}
	if err := parseDuration(envHTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return Config{}, err
	}
	if err := parseDuration(envSPKMaxAge, &cfg.SignedPreKeyMaxAge); err != nil {
		return Config{}, err
	}
	if err := parseDuration(envSPKGrace, &cfg.SignedPreKeyGrace); err != nil {
		return Config{}, err
	}
	if err := parseDuration(envMaintenance, &cfg.MaintenanceInterval); err != nil {
		return Config{}, err
	}
	if err := parseInt(envThreshold, &cfg.ReplenishThreshold); err != nil {
		return Config{}, err
	}
	if err := parseInt(envFanOut, &cfg.FanOutLimit); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewLogger builds the shared logrus logger from the configured level.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key string, dst *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

func parseInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}
