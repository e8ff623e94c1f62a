package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix is prepended to every environment variable read by LoadFromEnv
const EnvPrefix = "AIWORKER_"

type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Database  *DatabaseConfig  `json:"database"`
	Dispatch  *DispatchConfig  `json:"dispatch"`
	Redis     *RedisConfig     `json:"redis"`
	Metrics   *MetricsConfig   `json:"metrics"`
	Tracing   *TracingConfig   `json:"tracing"`
}

type HTTPConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

type WebSocketConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	ReadTimeout    time.Duration `json:"read_timeout"`
	WriteTimeout   time.Duration `json:"write_timeout"`
	BufferSize     int           `json:"buffer_size"`
	MaxMessageSize int64         `json:"max_message_size"`
}

// DatabaseConfig controls the connection audit log
type DatabaseConfig struct {
	Enabled bool          `json:"enabled"`
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

type DispatchConfig struct {
	RateLimitPerMinute int `json:"rate_limit_per_minute"` // 0 disables
	BroadcastQueueSize int `json:"broadcast_queue_size"`
}

// RedisConfig enables the broadcast trigger when URL is set
type RedisConfig struct {
	URL     string `json:"url"`
	Channel string `json:"channel"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TracingConfig exports a span per dispatched frame to stdout when enabled
type TracingConfig struct {
	Enabled bool `json:"enabled"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   5 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 64 * 1024,
		},
		Database: &DatabaseConfig{
			Enabled: true,
			Path:    "./data/aiworker.db",
			Timeout: 30 * time.Second,
		},
		Dispatch: &DispatchConfig{
			RateLimitPerMinute: 0,
			BroadcastQueueSize: 1000,
		},
		Redis: &RedisConfig{
			URL:     "",
			Channel: "aiworker:broadcast",
		},
		Metrics: &MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: &TracingConfig{
			Enabled: false,
		},
	}
}

func (c *Config) Validate() error {
	if c.HTTP == nil || c.WebSocket == nil || c.Database == nil ||
		c.Dispatch == nil || c.Redis == nil || c.Metrics == nil || c.Tracing == nil {
		return errors.New("all configuration sections are required")
	}

	// port 0 asks the OS for a free port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return fmt.Errorf("HTTP shutdown timeout must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must be longer than the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}
	if c.WebSocket.MaxMessageSize <= 0 {
		return fmt.Errorf("WebSocket max message size must be positive")
	}

	if c.Database.Enabled {
		if c.Database.Path == "" {
			return fmt.Errorf("database path cannot be empty")
		}
		if c.Database.Timeout <= 0 {
			return fmt.Errorf("database timeout must be positive")
		}
	}

	if c.Dispatch.RateLimitPerMinute < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.Dispatch.BroadcastQueueSize <= 0 {
		return fmt.Errorf("broadcast queue size must be positive")
	}

	if c.Redis.URL != "" && c.Redis.Channel == "" {
		return fmt.Errorf("redis channel cannot be empty when redis is enabled")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with /")
	}

	return nil
}

// Addr returns host:port for the HTTP listener
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// LoadFromEnv returns the defaults overridden by AIWORKER_* variables.
// Values that fail to parse are ignored.
func LoadFromEnv() *Config {
	config := DefaultConfig()
	applyEnv(config)
	return config
}

func applyEnv(config *Config) {
	envString("HTTP_HOST", &config.HTTP.Host)
	envInt("HTTP_PORT", &config.HTTP.Port)
	envDuration("HTTP_READ_TIMEOUT", &config.HTTP.ReadTimeout)
	envDuration("HTTP_WRITE_TIMEOUT", &config.HTTP.WriteTimeout)
	envDuration("HTTP_SHUTDOWN_TIMEOUT", &config.HTTP.ShutdownTimeout)

	envDuration("WEBSOCKET_PING_INTERVAL", &config.WebSocket.PingInterval)
	envDuration("WEBSOCKET_READ_TIMEOUT", &config.WebSocket.ReadTimeout)
	envDuration("WEBSOCKET_WRITE_TIMEOUT", &config.WebSocket.WriteTimeout)
	envInt("WEBSOCKET_BUFFER_SIZE", &config.WebSocket.BufferSize)
	if v := os.Getenv(EnvPrefix + "WEBSOCKET_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.WebSocket.MaxMessageSize = size
		}
	}

	envBool("DATABASE_ENABLED", &config.Database.Enabled)
	envString("DATABASE_PATH", &config.Database.Path)
	envDuration("DATABASE_TIMEOUT", &config.Database.Timeout)

	envInt("DISPATCH_RATE_LIMIT", &config.Dispatch.RateLimitPerMinute)
	envInt("DISPATCH_QUEUE_SIZE", &config.Dispatch.BroadcastQueueSize)

	envString("REDIS_URL", &config.Redis.URL)
	envString("REDIS_CHANNEL", &config.Redis.Channel)

	envBool("METRICS_ENABLED", &config.Metrics.Enabled)
	envString("METRICS_PATH", &config.Metrics.Path)

	envBool("TRACING_ENABLED", &config.Tracing.Enabled)
}

func envString(key string, dst *string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

// ConfigFile is the JSON layout of a config file. Durations are strings
// such as "30s"; absent fields keep their current value.
type ConfigFile struct {
	HTTP *struct {
		Host            string `json:"host"`
		Port            *int   `json:"port"`
		ReadTimeout     string `json:"read_timeout"`
		WriteTimeout    string `json:"write_timeout"`
		ShutdownTimeout string `json:"shutdown_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval   string `json:"ping_interval"`
		ReadTimeout    string `json:"read_timeout"`
		WriteTimeout   string `json:"write_timeout"`
		BufferSize     int    `json:"buffer_size"`
		MaxMessageSize int64  `json:"max_message_size"`
	} `json:"websocket"`
	Database *struct {
		Enabled *bool  `json:"enabled"`
		Path    string `json:"path"`
		Timeout string `json:"timeout"`
	} `json:"database"`
	Dispatch *struct {
		RateLimitPerMinute *int `json:"rate_limit_per_minute"`
		BroadcastQueueSize int  `json:"broadcast_queue_size"`
	} `json:"dispatch"`
	Redis *struct {
		URL     *string `json:"url"`
		Channel string  `json:"channel"`
	} `json:"redis"`
	Metrics *struct {
		Enabled *bool  `json:"enabled"`
		Path    string `json:"path"`
	} `json:"metrics"`
	Tracing *struct {
		Enabled *bool `json:"enabled"`
	} `json:"tracing"`
}

// LoadFromFile returns the defaults overridden by the JSON file at path
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := applyFile(config, path); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	var errs []error
	duration := func(field, value string, dst *time.Duration) {
		if value == "" {
			return
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
			return
		}
		*dst = d
	}

	if f := file.HTTP; f != nil {
		if f.Host != "" {
			config.HTTP.Host = f.Host
		}
		if f.Port != nil {
			config.HTTP.Port = *f.Port
		}
		duration("http.read_timeout", f.ReadTimeout, &config.HTTP.ReadTimeout)
		duration("http.write_timeout", f.WriteTimeout, &config.HTTP.WriteTimeout)
		duration("http.shutdown_timeout", f.ShutdownTimeout, &config.HTTP.ShutdownTimeout)
	}

	if f := file.WebSocket; f != nil {
		duration("websocket.ping_interval", f.PingInterval, &config.WebSocket.PingInterval)
		duration("websocket.read_timeout", f.ReadTimeout, &config.WebSocket.ReadTimeout)
		duration("websocket.write_timeout", f.WriteTimeout, &config.WebSocket.WriteTimeout)
		if f.BufferSize > 0 {
			config.WebSocket.BufferSize = f.BufferSize
		}
		if f.MaxMessageSize > 0 {
			config.WebSocket.MaxMessageSize = f.MaxMessageSize
		}
	}

	if f := file.Database; f != nil {
		if f.Enabled != nil {
			config.Database.Enabled = *f.Enabled
		}
		if f.Path != "" {
			config.Database.Path = f.Path
		}
		duration("database.timeout", f.Timeout, &config.Database.Timeout)
	}

	if f := file.Dispatch; f != nil {
		if f.RateLimitPerMinute != nil {
			config.Dispatch.RateLimitPerMinute = *f.RateLimitPerMinute
		}
		if f.BroadcastQueueSize > 0 {
			config.Dispatch.BroadcastQueueSize = f.BroadcastQueueSize
		}
	}

	if f := file.Redis; f != nil {
		if f.URL != nil {
			config.Redis.URL = *f.URL
		}
		if f.Channel != "" {
			config.Redis.Channel = f.Channel
		}
	}

	if f := file.Metrics; f != nil {
		if f.Enabled != nil {
			config.Metrics.Enabled = *f.Enabled
		}
		if f.Path != "" {
			config.Metrics.Path = f.Path
		}
	}

	if f := file.Tracing; f != nil && f.Enabled != nil {
		config.Tracing.Enabled = *f.Enabled
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid durations in %s: %w", path, errors.Join(errs...))
	}
	return nil
}

// LoadConfigWithPrecedence layers file over environment over defaults.
// An empty path skips the file.
func LoadConfigWithPrecedence(path string) (*Config, error) {
	config := LoadFromEnv()

	if path != "" {
		if err := applyFile(config, path); err != nil {
			return nil, err
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}
