package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Valkey     ValkeyConfig     `mapstructure:"valkey"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
	Log        LogConfig        `mapstructure:"log"`
	Simulation SimulationConfig `mapstructure:"simulation"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Temporal   TemporalConfig   `mapstructure:"temporal"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
}

type ServerConfig struct {
	Port         int `mapstructure:"port"`
	ReadTimeout  int `mapstructure:"read_timeout"`
	WriteTimeout int `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"`
}

type ValkeyConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SimulationConfig struct {
	TickIntervalMs int     `mapstructure:"tick_interval_ms"`
	SpeedKmh       float64 `mapstructure:"speed_kmh"`
	EndPolicy      string  `mapstructure:"end_policy"`
	EventBuffer    int     `mapstructure:"event_buffer"`
}

func (s SimulationConfig) TickInterval() time.Duration {
	return time.Duration(s.TickIntervalMs) * time.Millisecond
}

type GatewayConfig struct {
	QueueSize       int `mapstructure:"queue_size"`
	PingIntervalSec int `mapstructure:"ping_interval_sec"`
}

func (g GatewayConfig) PingInterval() time.Duration {
	return time.Duration(g.PingIntervalSec) * time.Second
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type StorageConfig struct {
	Driver             string `mapstructure:"driver"`
	CatalogFile        string `mapstructure:"catalog_file"`
	HistoryMaxLimit    int    `mapstructure:"history_max_limit"`
	AnalyticsBatchSize int    `mapstructure:"analytics_batch_size"`
}

type TemporalConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// IngestConfig lists upstream GTFS-Realtime feeds polled by the realtime
// service.
type IngestConfig struct {
	PollIntervalSec   int            `mapstructure:"poll_interval_sec"`
	DelayThresholdSec int            `mapstructure:"delay_threshold_sec"`
	Sources           []IngestSource `mapstructure:"sources"`
}

func (i IngestConfig) PollInterval() time.Duration {
	return time.Duration(i.PollIntervalSec) * time.Second
}

func (i IngestConfig) DelayThreshold() time.Duration {
	return time.Duration(i.DelayThresholdSec) * time.Second
}

type IngestSource struct {
	Name             string `mapstructure:"name"`
	VehiclePositions string `mapstructure:"vehicle_positions"`
	TripUpdates      string `mapstructure:"trip_updates"`
}

// Load reads configuration from .env, an optional config file and
// environment variables, in increasing order of precedence.
func Load(service string) (*Config, error) {
	_ = godotenv.Load() // OK if missing

	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: BILBOTRACK_DATABASE_HOST → database.host
	v.SetEnvPrefix("BILBOTRACK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, service string) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10)
	v.SetDefault("server.write_timeout", 10)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "transit")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "bilbotrack")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enabled", true)
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("valkey.enabled", true)
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("simulation.tick_interval_ms", 1000)
	v.SetDefault("simulation.speed_kmh", 30)
	v.SetDefault("simulation.end_policy", "terminate")
	v.SetDefault("simulation.event_buffer", 256)
	v.SetDefault("gateway.queue_size", 64)
	v.SetDefault("gateway.ping_interval_sec", 30)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.issuer", "bilbotrack")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.catalog_file", "")
	v.SetDefault("storage.history_max_limit", 1000)
	v.SetDefault("storage.analytics_batch_size", 10000)
	v.SetDefault("temporal.enabled", false)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.namespace", "default")
	v.SetDefault("temporal.task_queue", "bilbotrack-notifications")
	v.SetDefault("ingest.poll_interval_sec", 30)
	v.SetDefault("ingest.delay_threshold_sec", 180)
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}

	switch c.Storage.Driver {
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database.port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.User == "" {
			errs = append(errs, "database.user is required")
		}
		if c.Database.DBName == "" {
			errs = append(errs, "database.dbname is required")
		}
	case "memory":
		if c.Storage.CatalogFile == "" {
			errs = append(errs, "storage.catalog_file is required with the memory driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}
	if c.Storage.HistoryMaxLimit <= 0 {
		errs = append(errs, "storage.history_max_limit must be positive")
	}
	if c.Storage.AnalyticsBatchSize <= 0 {
		errs = append(errs, "storage.analytics_batch_size must be positive")
	}

	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Enabled && c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}

	if c.Simulation.TickIntervalMs <= 0 {
		errs = append(errs, "simulation.tick_interval_ms must be positive")
	}
	if c.Simulation.SpeedKmh <= 0 {
		errs = append(errs, "simulation.speed_kmh must be positive")
	}
	if c.Simulation.EndPolicy != "terminate" && c.Simulation.EndPolicy != "loop" {
		errs = append(errs, fmt.Sprintf("simulation.end_policy must be terminate or loop, got %q", c.Simulation.EndPolicy))
	}
	if c.Simulation.EventBuffer <= 0 {
		errs = append(errs, "simulation.event_buffer must be positive")
	}

	if c.Gateway.QueueSize <= 0 {
		errs = append(errs, "gateway.queue_size must be positive")
	}
	if c.Gateway.PingIntervalSec <= 0 {
		errs = append(errs, "gateway.ping_interval_sec must be positive")
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, "auth.jwt_secret is required")
	}

	if c.Temporal.Enabled && (c.Temporal.HostPort == "" || c.Temporal.TaskQueue == "") {
		errs = append(errs, "temporal.host_port and temporal.task_queue are required when temporal is enabled")
	}

	if c.Ingest.PollIntervalSec <= 0 {
		errs = append(errs, "ingest.poll_interval_sec must be positive")
	}
	if c.Ingest.DelayThresholdSec < 0 {
		errs = append(errs, "ingest.delay_threshold_sec must not be negative")
	}
	for i, src := range c.Ingest.Sources {
		if src.VehiclePositions == "" && src.TripUpdates == "" {
			errs = append(errs, fmt.Sprintf("ingest.sources[%d] needs vehicle_positions or trip_updates", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
