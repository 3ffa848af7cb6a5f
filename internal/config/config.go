package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"courtside/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	API        APIConfig        `yaml:"api"`
	Site       SiteConfig       `yaml:"site"`
	Booking    BookingConfig    `yaml:"booking"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Reaper     ReaperConfig     `yaml:"reaper"`
	Exports    ExportConfig     `yaml:"exports"`
	// Courts may live inline or in a separate file named by CourtsPath;
	// the file wins when both are set.
	CourtsPath string         `yaml:"courts_path"`
	Courts     []models.Court `yaml:"courts"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	Port      int                `yaml:"port"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key  string `yaml:"key"`
	Name string `yaml:"name"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// SiteConfig describes the downstream reservation site the execution adapter
// talks to.
type SiteConfig struct {
	BaseURL        string `yaml:"base_url"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type BookingConfig struct {
	DailyQuota           int `yaml:"daily_quota"`
	MaxAttempts          int `yaml:"max_attempts"`
	ExpiryGraceHours     int `yaml:"expiry_grace_hours"`
	SubmitRateLimit      int `yaml:"submit_rate_limit"`
	SubmitRateWindowSecs int `yaml:"submit_rate_window_seconds"`
}

type DispatcherConfig struct {
	TickSeconds           int `yaml:"tick_seconds"`
	MaxConcurrentAttempts int `yaml:"max_concurrent_attempts"`
	AttemptTimeoutSeconds int `yaml:"attempt_timeout_seconds"`
	RetryBaseSeconds      int `yaml:"retry_base_seconds"`
	RetryCapSeconds       int `yaml:"retry_cap_seconds"`
	BatchSize             int `yaml:"batch_size"`
}

type ReaperConfig struct {
	ExpireSweepMinutes int `yaml:"expire_sweep_minutes"`
	PurgeSweepHours    int `yaml:"purge_sweep_hours"`
	RetentionDays      int `yaml:"retention_days"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

func Load(configPath string) (*Config, error) {
	// .env не обязателен: в контейнере переменные приходят из окружения
	_ = godotenv.Load(".env")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	if config.CourtsPath != "" {
		courts, err := LoadCourts(config.CourtsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load courts from %s: %w", config.CourtsPath, err)
		}
		config.Courts = courts
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// LoadCourts reads the per-court policy file (courts.yaml).
func LoadCourts(path string) ([]models.Court, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var courtsConfig struct {
		Courts []models.Court `yaml:"courts"`
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &courtsConfig); err != nil {
		return nil, err
	}

	if err := ValidateCourts(courtsConfig.Courts); err != nil {
		return nil, err
	}
	return courtsConfig.Courts, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Site.BaseURL == "" {
		return errors.New("site base_url is required")
	}
	return ValidateCourts(c.Courts)
}

func ValidateCourts(courts []models.Court) error {
	courtIDs := make(map[int64]bool)
	for _, court := range courts {
		if court.ID == 0 {
			return fmt.Errorf("court '%s' has invalid ID 0", court.Name)
		}
		if courtIDs[court.ID] {
			return fmt.Errorf("duplicate court ID found: %d", court.ID)
		}
		courtIDs[court.ID] = true

		if court.BookingWindowDays <= 0 {
			return fmt.Errorf("court %d has invalid booking_window_days %d", court.ID, court.BookingWindowDays)
		}
		if court.WindowOpenHour < 0 || court.WindowOpenHour > 23 {
			return fmt.Errorf("court %d has invalid window_open_hour %d", court.ID, court.WindowOpenHour)
		}
		for _, slot := range court.TimeSlots {
			if _, _, err := models.ParseTimeSlot(slot); err != nil {
				return fmt.Errorf("court %d: %w", court.ID, err)
			}
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}

	if c.Site.TimeoutSeconds == 0 {
		c.Site.TimeoutSeconds = int(models.DefaultAttemptTimeout / time.Second)
	}

	if c.Booking.DailyQuota == 0 {
		c.Booking.DailyQuota = models.DefaultDailyQuota
	}
	if c.Booking.MaxAttempts == 0 {
		c.Booking.MaxAttempts = models.DefaultMaxAttempts
	}
	if c.Booking.ExpiryGraceHours == 0 {
		c.Booking.ExpiryGraceHours = int(models.DefaultExpiryGrace / time.Hour)
	}
	if c.Booking.SubmitRateLimit == 0 {
		c.Booking.SubmitRateLimit = models.DefaultSubmitRateLimit
	}
	if c.Booking.SubmitRateWindowSecs == 0 {
		c.Booking.SubmitRateWindowSecs = int(models.DefaultSubmitRateWindow / time.Second)
	}

	if c.Dispatcher.TickSeconds == 0 {
		c.Dispatcher.TickSeconds = int(models.DefaultDispatchTick / time.Second)
	}
	if c.Dispatcher.MaxConcurrentAttempts == 0 {
		c.Dispatcher.MaxConcurrentAttempts = models.DefaultMaxInFlight
	}
	if c.Dispatcher.AttemptTimeoutSeconds == 0 {
		c.Dispatcher.AttemptTimeoutSeconds = int(models.DefaultAttemptTimeout / time.Second)
	}
	if c.Dispatcher.RetryBaseSeconds == 0 {
		c.Dispatcher.RetryBaseSeconds = int(models.DefaultRetryBase / time.Second)
	}
	if c.Dispatcher.RetryCapSeconds == 0 {
		c.Dispatcher.RetryCapSeconds = int(models.DefaultRetryCap / time.Second)
	}
	if c.Dispatcher.BatchSize == 0 {
		c.Dispatcher.BatchSize = 50
	}

	if c.Reaper.ExpireSweepMinutes == 0 {
		c.Reaper.ExpireSweepMinutes = int(models.DefaultExpireSweep / time.Minute)
	}
	if c.Reaper.PurgeSweepHours == 0 {
		c.Reaper.PurgeSweepHours = int(models.DefaultPurgeSweep / time.Hour)
	}
	if c.Reaper.RetentionDays == 0 {
		c.Reaper.RetentionDays = models.DefaultRetentionDays
	}
}
