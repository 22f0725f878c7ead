package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// LoggerConfig controls the observability package.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes, per lumberjack
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
}

// DatabaseConfig holds the metadata store connection settings.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxConns        int           `mapstructure:"max_conns" yaml:"max_conns"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	StatementsCache bool          `mapstructure:"statements_cache" yaml:"statements_cache"`
}

// EngineConfig bounds the execution engine.
type EngineConfig struct {
	// DefaultConcurrency is used when a caller passes 0 workers.
	DefaultConcurrency int `mapstructure:"default_concurrency" yaml:"default_concurrency"`
	// MaxSessions caps simultaneously open browser processes host-wide.
	MaxSessions int `mapstructure:"max_sessions" yaml:"max_sessions"`
	// TaskTimeout bounds one profile task (launch + graph run + release).
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	// InteractiveLifetime bounds a workflow-less interactive session
	// opened by the concurrent launch operations.
	InteractiveLifetime time.Duration `mapstructure:"interactive_lifetime" yaml:"interactive_lifetime"`
}

// BrowserConfig controls how sessions are launched.
type BrowserConfig struct {
	ExecPath      string        `mapstructure:"exec_path" yaml:"exec_path"`
	Headless      bool          `mapstructure:"headless" yaml:"headless"`
	Args          []string      `mapstructure:"args" yaml:"args"`
	ProfilesDir   string        `mapstructure:"profiles_dir" yaml:"profiles_dir"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	// LaunchesPerSecond staggers browser process spawns; a burst of cold
	// Chrome starts can starve the host.
	LaunchesPerSecond float64 `mapstructure:"launches_per_second" yaml:"launches_per_second"`
	StartPage         string  `mapstructure:"start_page" yaml:"start_page"`
}

// ProxyConfig controls proxy health checks and the credential relay.
type ProxyConfig struct {
	CheckURL     string        `mapstructure:"check_url" yaml:"check_url"`
	CheckTimeout time.Duration `mapstructure:"check_timeout" yaml:"check_timeout"`
	// RelayListen is the loopback address the credential-injecting relay
	// binds to; port 0 picks an ephemeral port per session.
	RelayListen string `mapstructure:"relay_listen" yaml:"relay_listen"`
}

// Config is the root application configuration.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Engine   EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Browser  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	Proxy    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
}

// SetDefaults registers every default on the given viper instance.
// Flags and env vars override these.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "stealthfleet")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.connect_timeout", 10*time.Second)

	v.SetDefault("engine.default_concurrency", 4)
	v.SetDefault("engine.max_sessions", 16)
	v.SetDefault("engine.task_timeout", 10*time.Minute)
	v.SetDefault("engine.interactive_lifetime", 30*time.Minute)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.launch_timeout", 60*time.Second)
	v.SetDefault("browser.launches_per_second", 2.0)
	v.SetDefault("browser.start_page", "about:blank")

	v.SetDefault("proxy.check_url", "https://api.ipify.org")
	v.SetDefault("proxy.check_timeout", 15*time.Second)
	v.SetDefault("proxy.relay_listen", "127.0.0.1:0")
}

// Load reads the config file (when present), applies env overrides with
// the STEALTHFLEET_ prefix, and validates the result.
func Load(cfgFile string) (*Config, error) {
	v := viper.GetViper()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("STEALTHFLEET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars carry the day.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finalize fills derived values and rejects nonsense before anything
// downstream consumes the config.
func (c *Config) finalize() error {
	if c.Browser.ProfilesDir == "" {
		home, err := homedir.Dir()
		if err != nil {
			return fmt.Errorf("cannot resolve home directory for profiles dir: %w", err)
		}
		c.Browser.ProfilesDir = filepath.Join(home, ".stealthfleet", "profiles")
	}

	if c.Engine.DefaultConcurrency <= 0 {
		return fmt.Errorf("engine.default_concurrency must be positive, got %d", c.Engine.DefaultConcurrency)
	}
	if c.Engine.MaxSessions <= 0 {
		return fmt.Errorf("engine.max_sessions must be positive, got %d", c.Engine.MaxSessions)
	}
	if c.Browser.LaunchTimeout <= 0 {
		return fmt.Errorf("browser.launch_timeout must be positive, got %s", c.Browser.LaunchTimeout)
	}
	if c.Browser.LaunchesPerSecond <= 0 {
		return fmt.Errorf("browser.launches_per_second must be positive, got %g", c.Browser.LaunchesPerSecond)
	}
	return nil
}
