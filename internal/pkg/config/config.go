package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Valkey    ValkeyConfig    `mapstructure:"valkey"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Temporal  TemporalConfig  `mapstructure:"temporal"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Log       LogConfig       `mapstructure:"log"`
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
	URL string `mapstructure:"url"`
}

type ValkeyConfig struct {
	Addr string `mapstructure:"addr"`
}

type TelemetryConfig struct {
	ServiceName string `mapstructure:"service_name"`
	TempoAddr   string `mapstructure:"tempo_addr"`
	Enabled     bool   `mapstructure:"enabled"`
}

type TemporalConfig struct {
	HostPort    string `mapstructure:"host_port"`
	TaskQueue   string `mapstructure:"task_queue"`
	RefreshCron string `mapstructure:"refresh_cron"`
}

// EngineConfig tunes grid construction.
type EngineConfig struct {
	DefaultResolution   int     `mapstructure:"default_resolution"`
	MaxResolution       int     `mapstructure:"max_resolution"`
	InterpolationRadius int     `mapstructure:"interpolation_radius"`
	ConfidencePenalty   float64 `mapstructure:"confidence_penalty"`
	CacheTTL            int     `mapstructure:"cache_ttl"`
	MaxAlertCells       int     `mapstructure:"max_alert_cells"`
	MaxTrackedGrids     int     `mapstructure:"max_tracked_grids"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables.
func Load(service string) (*Config, error) {
	v := viper.New()
	setDefaults(v, service)

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	_ = v.ReadInConfig() // OK if missing

	// Environment variables: RISKGRID_ENGINE_MAX_RESOLUTION → engine.max_resolution
	v.SetEnvPrefix("RISKGRID")
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
	v.SetDefault("database.user", "riskgrid")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "riskgrid")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("valkey.addr", "localhost:6379")
	v.SetDefault("telemetry.service_name", service)
	v.SetDefault("telemetry.tempo_addr", "tempo:4317")
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("temporal.host_port", "localhost:7233")
	v.SetDefault("temporal.task_queue", "grid-refresh")
	v.SetDefault("temporal.refresh_cron", "*/15 * * * *")
	v.SetDefault("engine.default_resolution", 32)
	v.SetDefault("engine.max_resolution", 256)
	v.SetDefault("engine.interpolation_radius", 2)
	v.SetDefault("engine.confidence_penalty", 0.7)
	v.SetDefault("engine.cache_ttl", 300)
	v.SetDefault("engine.max_alert_cells", 50)
	v.SetDefault("engine.max_tracked_grids", 64)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}
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
	if c.NATS.URL == "" {
		errs = append(errs, "nats.url is required")
	}
	if c.Valkey.Addr == "" {
		errs = append(errs, "valkey.addr is required")
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, "server.read_timeout must be positive")
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server.write_timeout must be positive")
	}
	if c.Temporal.TaskQueue == "" {
		errs = append(errs, "temporal.task_queue is required")
	}
	if c.Engine.DefaultResolution < 2 {
		errs = append(errs, fmt.Sprintf("engine.default_resolution must be at least 2, got %d", c.Engine.DefaultResolution))
	}
	if c.Engine.MaxResolution < c.Engine.DefaultResolution {
		errs = append(errs, fmt.Sprintf("engine.max_resolution %d below default_resolution %d",
			c.Engine.MaxResolution, c.Engine.DefaultResolution))
	}
	if c.Engine.MaxTrackedGrids < 1 {
		errs = append(errs, fmt.Sprintf("engine.max_tracked_grids must be at least 1, got %d", c.Engine.MaxTrackedGrids))
	}
	if c.Engine.InterpolationRadius < 0 {
		errs = append(errs, "engine.interpolation_radius must not be negative")
	}
	if c.Engine.ConfidencePenalty <= 0 || c.Engine.ConfidencePenalty > 1 {
		errs = append(errs, fmt.Sprintf("engine.confidence_penalty must be in (0,1], got %v", c.Engine.ConfidencePenalty))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("log.format must be json or text, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
