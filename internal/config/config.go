package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Channel driver names.
const (
	DriverLog = "log"
	DriverHue = "hue"
	DriverLua = "lua"
)

// Config represents the application configuration.
type Config struct {
	Log             LogConfig       `yaml:"log"`
	Device          DeviceConfig    `yaml:"device"`
	Scheduler       SchedulerConfig `yaml:"scheduler"`
	Executor        ExecutorConfig  `yaml:"executor"`
	Channel         ChannelConfig   `yaml:"channel"`
	HTTP            HTTPConfig      `yaml:"http"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	Redis           RedisConfig     `yaml:"redis"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	Timezone        string          `yaml:"timezone"`         // Used to render trigger times in logs
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default.
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Level)
}

// DeviceConfig identifies this device in logs and broadcasts.
type DeviceConfig struct {
	Name string `yaml:"name"`
}

// SchedulerConfig contains trigger polling settings.
type SchedulerConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
}

// ExecutorConfig contains action playback settings.
type ExecutorConfig struct {
	RampStep Duration `yaml:"ramp_step"` // Interval between ramp writes
}

// ChannelConfig selects and configures the output driver.
type ChannelConfig struct {
	Driver string    `yaml:"driver"` // log, hue or lua
	Hue    HueConfig `yaml:"hue"`
	Lua    LuaConfig `yaml:"lua"`
}

// HueConfig contains Hue bridge settings for the hue driver.
type HueConfig struct {
	Bridge       string  `yaml:"bridge"`
	Token        string  `yaml:"token"`
	LightID      int     `yaml:"light_id"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
}

// LuaConfig contains settings for the lua driver.
type LuaConfig struct {
	Script string `yaml:"script"`
}

// HTTPConfig contains transport server settings.
type HTTPConfig struct {
	Enabled     *bool   `yaml:"enabled"` // default: true
	Host        string  `yaml:"host"`
	Port        int     `yaml:"port"`
	UploadRPS   float64 `yaml:"upload_rps"`
	UploadBurst int     `yaml:"upload_burst"`
}

// IsEnabled returns whether the HTTP server should run.
func (c *HTTPConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Addr returns host:port.
func (c *HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LedgerConfig contains event ledger settings.
type LedgerConfig struct {
	Enabled         *bool    `yaml:"enabled"` // default: true
	Path            string   `yaml:"path"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// IsEnabled returns whether the ledger is enabled.
func (c *LedgerConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Retention returns the retention period.
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// RedisConfig contains settings for broadcasting device events.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// EventBusConfig contains event bus settings.
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 1, keeps order)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 256)
}

// GetWorkers returns worker count with default.
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

// GetQueueSize returns queue size with default.
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 256
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file. A .env file in the working
// directory, if present, is loaded into the environment first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes configuration YAML, expanding environment variables and
// filling defaults.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Device.Name == "" {
		cfg.Device.Name = "lightpd"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}

	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = Duration(time.Second)
	}
	if cfg.Executor.RampStep == 0 {
		cfg.Executor.RampStep = Duration(20 * time.Millisecond)
	}

	// Channel defaults
	if cfg.Channel.Driver == "" {
		cfg.Channel.Driver = DriverLog
	}
	if cfg.Channel.Hue.LightID == 0 {
		cfg.Channel.Hue.LightID = 1
	}
	if cfg.Channel.Hue.RateLimitRPS == 0 {
		cfg.Channel.Hue.RateLimitRPS = 10.0 // 10 requests per second
	}
	if cfg.Channel.Lua.Script == "" {
		cfg.Channel.Lua.Script = "channel.lua"
	}

	// HTTP defaults
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.UploadRPS == 0 {
		cfg.HTTP.UploadRPS = 5
	}
	if cfg.HTTP.UploadBurst == 0 {
		cfg.HTTP.UploadBurst = 10
	}

	// Ledger defaults
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "./lightpd.sqlite"
	}
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Redis defaults
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Redis.ChannelPrefix == "" {
		cfg.Redis.ChannelPrefix = cfg.Device.Name
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch c.Channel.Driver {
	case DriverLog, DriverLua:
	case DriverHue:
		if c.Channel.Hue.Bridge == "" || c.Channel.Hue.Token == "" {
			return fmt.Errorf("channel.hue: bridge and token are required for the hue driver")
		}
	default:
		return fmt.Errorf("channel.driver: unknown driver %q", c.Channel.Driver)
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port: %d out of range", c.HTTP.Port)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	return nil
}

// GetShutdownTimeout returns the shutdown timeout.
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}.
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
