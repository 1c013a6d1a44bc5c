package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Channel   ChannelConfig   `mapstructure:"channel"`
	Logger    LoggerConfig    `mapstructure:"logger"`
	Server    ServerConfig    `mapstructure:"server"`
	Simulator SimulatorConfig `mapstructure:"simulator"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Features  FeaturesConfig  `mapstructure:"features"`
	Auth      AuthConfig      `mapstructure:"auth"`
}

// APIConfig points the client at the generation backend's REST API.
type APIConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ChannelConfig tunes the push channel and its polling fallback.
type ChannelConfig struct {
	WSBaseURL            string        `mapstructure:"ws_base_url"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	PollInterval         time.Duration `mapstructure:"poll_interval"`
	LivenessTimeout      time.Duration `mapstructure:"liveness_timeout"`
	HandshakeTimeout     time.Duration `mapstructure:"handshake_timeout"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	PublicURL    string        `mapstructure:"public_url"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SimulatorConfig drives the emulated generation pipeline of the devserver.
type SimulatorConfig struct {
	StepDelay     time.Duration `mapstructure:"step_delay"`
	StepsPerStage int           `mapstructure:"steps_per_stage"`
	Workers       int           `mapstructure:"workers"`
	FailKeyword   string        `mapstructure:"fail_keyword"`
	OutputDir     string        `mapstructure:"output_dir"`
	// Retention is how long finished jobs and their artifacts are kept.
	// Zero keeps them forever.
	Retention       time.Duration `mapstructure:"retention"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

type LoggerConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

type FeaturesConfig struct {
	RequestIDHeader      string `mapstructure:"request_id_header"`
	EnableRequestLogging bool   `mapstructure:"enable_request_logging"`
}

type AuthConfig struct {
	APIToken       string   `mapstructure:"api_token"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.token", "")
	v.SetDefault("api.timeout", 30*time.Second)

	v.SetDefault("channel.ws_base_url", "")
	v.SetDefault("channel.heartbeat_interval", 30*time.Second)
	v.SetDefault("channel.reconnect_delay", 2*time.Second)
	v.SetDefault("channel.max_reconnect_attempts", 3)
	v.SetDefault("channel.poll_interval", 2*time.Second)
	v.SetDefault("channel.liveness_timeout", 10*time.Minute)
	v.SetDefault("channel.handshake_timeout", 10*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("logger.output_paths", []string{"stderr"})
	v.SetDefault("logger.error_output_paths", []string{"stderr"})

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.public_url", "")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("simulator.step_delay", 500*time.Millisecond)
	v.SetDefault("simulator.steps_per_stage", 4)
	v.SetDefault("simulator.workers", 1)
	v.SetDefault("simulator.fail_keyword", "")
	v.SetDefault("simulator.output_dir", "./outputs")
	v.SetDefault("simulator.retention", 24*time.Hour)
	v.SetDefault("simulator.cleanup_interval", 10*time.Minute)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "meshforge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)

	v.SetDefault("features.request_id_header", "X-Request-ID")
	v.SetDefault("features.enable_request_logging", true)

	v.SetDefault("auth.api_token", "")
	v.SetDefault("auth.allowed_origins", []string{"http://localhost:5173"})
}

// Load reads configuration from defaults, an optional YAML file, and STUDIO_*
// environment variables, in increasing order of precedence. A .env or
// .env.local file in the working directory is folded into the environment
// first. An empty path searches ./studio.yaml and ./config/studio.yaml and
// tolerates neither existing.
func Load(path string) (*Config, error) {
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("STUDIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("studio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute http(s) URL, got %q", c.API.BaseURL)
	}
	if c.Channel.WSBaseURL != "" {
		u, err := url.Parse(c.Channel.WSBaseURL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("channel.ws_base_url must be an absolute ws(s) URL, got %q", c.Channel.WSBaseURL)
		}
	}
	if c.Channel.HeartbeatInterval <= 0 || c.Channel.ReconnectDelay <= 0 || c.Channel.PollInterval <= 0 {
		return fmt.Errorf("channel intervals must be positive")
	}
	if c.Channel.MaxReconnectAttempts < 1 {
		return fmt.Errorf("channel.max_reconnect_attempts must be at least 1")
	}
	return nil
}

// WebsocketBaseURL returns the push-channel base, derived from the REST base
// URL when none is configured explicitly.
func (c *Config) WebsocketBaseURL() string {
	if c.Channel.WSBaseURL != "" {
		return strings.TrimRight(c.Channel.WSBaseURL, "/")
	}
	base := strings.TrimRight(c.API.BaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
