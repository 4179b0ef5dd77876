package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"roombook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const DefaultPath = "configs/config.yaml"

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	Cache      CacheConfig      `yaml:"cache"`
	Store      StoreConfig      `yaml:"store"`
}

type APIConfig struct {
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
	CORS      APICORSConfig      `yaml:"cors"`
}

type APIHTTPConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// APIGRPCConfig configures the gRPC health endpoint.
type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type APICORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// ScheduleConfig is the business-hours window used to build slots.
type ScheduleConfig struct {
	StartHour       int  `yaml:"start_hour"`
	EndHour         int  `yaml:"end_hour"`
	SlotDuration    int  `yaml:"slot_duration"`
	PrefetchNextDay bool `yaml:"prefetch_next_day"`
}

func (s ScheduleConfig) SlotConfig() models.SlotConfig {
	return models.SlotConfig{
		StartHour:    s.StartHour,
		EndHour:      s.EndHour,
		SlotDuration: s.SlotDuration,
	}
}

const (
	CacheBackendMemory   = "memory"
	CacheBackendRedis    = "redis"
	CacheBackendFailover = "failover"
)

type CacheConfig struct {
	Backend        string        `yaml:"backend"`
	OnlineTTL      time.Duration `yaml:"online_ttl"`
	OfflineTTL     time.Duration `yaml:"offline_ttl"`
	Capacity       int           `yaml:"capacity"`
	SweepThreshold int           `yaml:"sweep_threshold"`
	StaleRetention time.Duration `yaml:"stale_retention"`
}

// StoreConfig is the retry policy applied to every appointment store call.
type StoreConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}

	s := c.Schedule
	if s.SlotDuration <= 0 {
		return errors.New("schedule.slot_duration must be positive")
	}
	if s.StartHour < 0 || s.EndHour > 24 || s.StartHour >= s.EndHour {
		return fmt.Errorf("schedule hours %d-%d are invalid", s.StartHour, s.EndHour)
	}

	if c.Cache.OnlineTTL >= c.Cache.OfflineTTL {
		return fmt.Errorf("cache.online_ttl (%s) must be shorter than cache.offline_ttl (%s)", c.Cache.OnlineTTL, c.Cache.OfflineTTL)
	}
	switch c.Cache.Backend {
	case CacheBackendMemory:
	case CacheBackendRedis, CacheBackendFailover:
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address is required for cache backend %q", c.Cache.Backend)
		}
	default:
		return fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}

	if c.Store.MaxAttempts < 1 {
		return errors.New("store.max_attempts must be at least 1")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "roombook"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}

	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.HTTP.ReadTimeout == 0 {
		c.API.HTTP.ReadTimeout = 15 * time.Second
	}
	if c.API.HTTP.WriteTimeout == 0 {
		c.API.HTTP.WriteTimeout = 60 * time.Second
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if len(c.API.CORS.AllowedOrigins) == 0 {
		c.API.CORS.AllowedOrigins = []string{"*"}
	}

	if c.Schedule.StartHour == 0 && c.Schedule.EndHour == 0 {
		c.Schedule.StartHour = models.DefaultStartHour
		c.Schedule.EndHour = models.DefaultEndHour
	}
	if c.Schedule.SlotDuration == 0 {
		c.Schedule.SlotDuration = models.DefaultSlotDuration
	}

	c.Cache.Backend = strings.ToLower(strings.TrimSpace(c.Cache.Backend))
	if c.Cache.Backend == "" {
		c.Cache.Backend = CacheBackendMemory
	}
	if c.Cache.OnlineTTL == 0 {
		c.Cache.OnlineTTL = 3 * time.Minute
	}
	if c.Cache.OfflineTTL == 0 {
		c.Cache.OfflineTTL = 30 * time.Minute
	}
	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 500
	}
	if c.Cache.SweepThreshold == 0 {
		c.Cache.SweepThreshold = 50
	}
	if c.Cache.StaleRetention == 0 {
		c.Cache.StaleRetention = 24 * time.Hour
	}

	if c.Store.Timeout == 0 {
		c.Store.Timeout = 10 * time.Second
	}
	if c.Store.MaxAttempts == 0 {
		c.Store.MaxAttempts = 3
	}
	if c.Store.BaseDelay == 0 {
		c.Store.BaseDelay = time.Second
	}
	if c.Store.MaxDelay == 0 {
		c.Store.MaxDelay = 8 * time.Second
	}
}
