package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"dronelab/pkg/types"
)

// EnvPrefix namespaces environment overrides, e.g. DRONELAB_HTTP_PORT.
const EnvPrefix = "DRONELAB"

// Store backends
const (
	StoreBackendRedis  = "redis"
	StoreBackendMemory = "memory"
)

// Config is the full runtime configuration. Sections map one to one onto
// the components that consume them.
type Config struct {
	Database  *DatabaseConfig  `mapstructure:"database"`
	HTTP      *HTTPConfig      `mapstructure:"http"`
	WebSocket *WebSocketConfig `mapstructure:"websocket"`
	Store     *StoreConfig     `mapstructure:"store"`
	Redis     *RedisConfig     `mapstructure:"redis"`
	Auth      *AuthConfig      `mapstructure:"auth"`
	Log       *LogConfig       `mapstructure:"log"`
	Lecture   *LectureConfig   `mapstructure:"lecture"`
}

type DatabaseConfig struct {
	Path    string        `mapstructure:"path"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Mode         string        `mapstructure:"mode"` // gin mode: release, debug, test
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	RateLimit      int           `mapstructure:"rate_limit"` // inbound frames per minute per socket
}

type StoreConfig struct {
	Backend          string        `mapstructure:"backend"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
}

type RedisConfig struct {
	Address        string        `mapstructure:"address"`
	Password       string        `mapstructure:"password"`
	DB             int           `mapstructure:"db"`
	PoolSize       int           `mapstructure:"pool_size"`
	PoolTimeout    time.Duration `mapstructure:"pool_timeout"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type LectureConfig struct {
	CodeTemplate string `mapstructure:"code_template"`
	CodeAttempts int    `mapstructure:"code_attempts"`
}

// DefaultConfig returns settings suitable for a single classroom server with
// a local Redis.
func DefaultConfig() *Config {
	return &Config{
		Database: &DatabaseConfig{
			Path:    "./dronelab.db",
			Timeout: 30 * time.Second,
		},
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Mode:         "release",
		},
		WebSocket: &WebSocketConfig{
			PingInterval:   30 * time.Second,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   10 * time.Second,
			BufferSize:     100,
			MaxMessageSize: 128 * 1024,
			RateLimit:      300,
		},
		Store: &StoreConfig{
			Backend:          StoreBackendRedis,
			OperationTimeout: 2 * time.Second,
		},
		Redis: &RedisConfig{
			Address:        "localhost:6379",
			DB:             0,
			PoolSize:       20,
			PoolTimeout:    4 * time.Second,
			ConnectTimeout: 30 * time.Second,
		},
		Auth: &AuthConfig{
			Enabled: false,
		},
		Log: &LogConfig{
			Level:  "info",
			Pretty: false,
		},
		Lecture: &LectureConfig{
			CodeTemplate: types.DefaultCodeTemplate,
			CodeAttempts: 20,
		},
	}
}

// Validate rejects configurations that would fail at runtime.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database configuration is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("database timeout must be positive")
	}

	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	switch c.HTTP.Mode {
	case "release", "debug", "test":
	default:
		return fmt.Errorf("HTTP mode must be release, debug or test")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("WebSocket read timeout must exceed the ping interval")
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
	if c.WebSocket.RateLimit <= 0 {
		return fmt.Errorf("WebSocket rate limit must be positive")
	}

	if c.Store == nil {
		return fmt.Errorf("store configuration is required")
	}
	switch c.Store.Backend {
	case StoreBackendRedis:
		if c.Redis == nil || c.Redis.Address == "" {
			return fmt.Errorf("redis address is required for the redis store backend")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis pool size must be positive")
		}
		if c.Redis.ConnectTimeout <= 0 {
			return fmt.Errorf("redis connect timeout must be positive")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("store backend must be %q or %q", StoreBackendRedis, StoreBackendMemory)
	}
	if c.Store.OperationTimeout <= 0 {
		return fmt.Errorf("store operation timeout must be positive")
	}

	if c.Auth == nil {
		return fmt.Errorf("auth configuration is required")
	}
	if c.Auth.Enabled && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth JWT secret must be at least 16 bytes when auth is enabled")
	}

	if c.Log == nil {
		return fmt.Errorf("log configuration is required")
	}

	if c.Lecture == nil {
		return fmt.Errorf("lecture configuration is required")
	}
	if c.Lecture.CodeAttempts <= 0 {
		return fmt.Errorf("lecture code attempts must be positive")
	}

	return nil
}

// Load builds the configuration with precedence env > file > defaults.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve nested keys
// that never appear in a file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.timeout", d.Database.Timeout)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)
	v.SetDefault("http.mode", d.HTTP.Mode)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)
	v.SetDefault("websocket.max_message_size", d.WebSocket.MaxMessageSize)
	v.SetDefault("websocket.rate_limit", d.WebSocket.RateLimit)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.operation_timeout", d.Store.OperationTimeout)

	v.SetDefault("redis.address", d.Redis.Address)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.pool_timeout", d.Redis.PoolTimeout)
	v.SetDefault("redis.connect_timeout", d.Redis.ConnectTimeout)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.issuer", d.Auth.Issuer)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)

	v.SetDefault("lecture.code_template", d.Lecture.CodeTemplate)
	v.SetDefault("lecture.code_attempts", d.Lecture.CodeAttempts)
}
