package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// TransportConfig selects and configures the link to the probe.
type TransportConfig struct {
	Kind        string        `mapstructure:"kind"`
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	USBSerial   string        `mapstructure:"usbSerial"`
}

// SessionConfig holds protocol session settings.
type SessionConfig struct {
	InitialSeqno uint16 `mapstructure:"initialSeqno"`
	// SwitchBaud, when non-zero, is negotiated right after sign-on.
	SwitchBaud int `mapstructure:"switchBaud"`
}

// LumberjackConfig configures log file rotation.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig sets log level, encoding and the optional log file.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
	Path   string `mapstructure:"path"`
}

// WatchConfig paces the watch command.
type WatchConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Burst    int           `mapstructure:"burst"`
}

// Config is the top-level configuration.
type Config struct {
	Transport TransportConfig `mapstructure:"transport"`
	Session   SessionConfig   `mapstructure:"session"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Watch     WatchConfig     `mapstructure:"watch"`
}

// EnvPrefix prefixes environment overrides, e.g. MKII_TRANSPORT_PORT.
const EnvPrefix = "MKII"

// Transport defaults, shared with the CLI flag defaults.
const (
	DefaultPort        = "/dev/ttyUSB0"
	DefaultBaud        = 19200
	DefaultReadTimeout = 8 * time.Second
)

// New returns a viper instance with defaults and environment overrides set
// up. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (YAML, TOML or JSON) into v and decodes the result. An
// empty path looks for mkii.yaml in the working directory and ./configs;
// a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("mkii")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("transport.kind", "serial")
	v.SetDefault("transport.port", DefaultPort)
	v.SetDefault("transport.baud", DefaultBaud)
	v.SetDefault("transport.readTimeout", DefaultReadTimeout)
	v.SetDefault("transport.usbSerial", "")

	v.SetDefault("session.initialSeqno", 0)
	v.SetDefault("session.switchBaud", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 10)
	v.SetDefault("logging.file.maxBackups", 3)
	v.SetDefault("logging.file.maxAge", 7)
	v.SetDefault("logging.file.compress", false)

	v.SetDefault("metrics.enable", false)
	v.SetDefault("metrics.addr", ":9464")
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("watch.interval", "500ms")
	v.SetDefault("watch.burst", 1)
}

// supportedBauds are the line rates the probe can switch to.
var supportedBauds = map[int]bool{
	2400: true, 4800: true, 9600: true, 14400: true,
	19200: true, 38400: true, 57600: true, 115200: true,
}

// Validate rejects settings no transport could honor.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case "serial", "usb", "simulator", "sim":
	default:
		return fmt.Errorf("config: unknown transport kind %q", c.Transport.Kind)
	}
	if c.Transport.Kind == "serial" && c.Transport.Port == "" {
		return fmt.Errorf("config: transport.port is required for serial")
	}
	if c.Transport.Baud <= 0 {
		return fmt.Errorf("config: transport.baud must be positive, got %d", c.Transport.Baud)
	}
	if c.Transport.ReadTimeout <= 0 {
		return fmt.Errorf("config: transport.readTimeout must be positive")
	}
	if c.Session.SwitchBaud != 0 && !supportedBauds[c.Session.SwitchBaud] {
		return fmt.Errorf("config: session.switchBaud %d is not a probe baud rate", c.Session.SwitchBaud)
	}
	if c.Watch.Interval <= 0 {
		return fmt.Errorf("config: watch.interval must be positive")
	}
	if c.Watch.Burst < 1 {
		return fmt.Errorf("config: watch.burst must be at least 1")
	}
	return nil
}
