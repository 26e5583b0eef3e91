package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dokzlo13/ambientd/internal/color"
	"github.com/dokzlo13/ambientd/internal/command"
	"github.com/dokzlo13/ambientd/internal/strip"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig       `yaml:"log"`
	CAN             CANConfig       `yaml:"can"`
	Lights          LightsConfig    `yaml:"lights"`
	Animation       AnimationConfig `yaml:"animation"`
	Ambient         AmbientConfig   `yaml:"ambient"`
	HTTP            HTTPConfig      `yaml:"http"`
	OTA             OTAConfig       `yaml:"ota"`
	Metrics         MetricsConfig   `yaml:"metrics"`
	Ledger          LedgerConfig    `yaml:"ledger"`
	EventBus        EventBusConfig  `yaml:"eventbus"`
	Systemd         SystemdConfig   `yaml:"systemd"`
	ShutdownTimeout Duration        `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// CANConfig contains bus receiver settings
type CANConfig struct {
	Interface      string   `yaml:"interface"`       // SocketCAN interface (default: can0)
	ReceiveTimeout Duration `yaml:"receive_timeout"` // Poll timeout for a single receive (default: 1s)
}

// LightsConfig contains one strip per light channel
type LightsConfig struct {
	Dashboard StripConfig `yaml:"dashboard"`
	Door      StripConfig `yaml:"door"`
}

// StripConfig describes an LED strip and its driver
type StripConfig struct {
	Driver     string   `yaml:"driver"` // spi, opc or memory (default: spi)
	LEDs       int      `yaml:"leds"`
	SPIPort    string   `yaml:"spi_port"`     // periph.io port name, empty selects the first port
	SPIFreqKHz int      `yaml:"spi_freq_khz"` // WS2812 bit rate (default: 800)
	OPCAddr    string   `yaml:"opc_addr"`     // host:port of an Open Pixel Control server
	OPCChannel int      `yaml:"opc_channel"`
	OPCTimeout Duration `yaml:"opc_timeout"` // Dial and write timeout (default: 2s)
}

// Options converts the strip settings to driver options
func (c StripConfig) Options() strip.Options {
	return strip.Options{
		Driver:     c.Driver,
		LEDs:       c.LEDs,
		SPIPort:    c.SPIPort,
		SPIFreqKHz: c.SPIFreqKHz,
		OPCAddr:    c.OPCAddr,
		OPCChannel: uint8(c.OPCChannel),
		OPCTimeout: c.OPCTimeout.Duration(),
	}
}

// AnimationConfig contains step counts and delays for synthesized commands
type AnimationConfig struct {
	FadeSteps       int      `yaml:"fade_steps"`
	FadeDelay       Duration `yaml:"fade_delay"`
	SequentialSteps int      `yaml:"sequential_steps"`
	SequentialDelay Duration `yaml:"sequential_delay"`
}

// Timing converts the animation settings to command timing
func (c AnimationConfig) Timing() command.Timing {
	return command.Timing{
		FadeSteps:       c.FadeSteps,
		FadeDelay:       c.FadeDelay.Duration(),
		SequentialSteps: c.SequentialSteps,
		SequentialDelay: c.SequentialDelay.Duration(),
	}
}

// AmbientConfig contains the shared ambient color settings
type AmbientConfig struct {
	StartupColor string `yaml:"startup_color"` // #rrggbb (default: #646464)
}

// Color returns the parsed startup color. Load has already validated it.
func (c AmbientConfig) Color() color.Color {
	col, err := color.ParseHex(c.StartupColor)
	if err != nil {
		return color.RGB(100, 100, 100)
	}
	return col
}

// HTTPConfig contains control API server settings
type HTTPConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`   // Color updates per second (default: 5)
	RateLimitBurst int      `yaml:"rate_limit_burst"` // (default: 10)
	ReadTimeout    Duration `yaml:"read_timeout"`
}

// Addr returns the listen address
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OTAConfig contains firmware update settings
type OTAConfig struct {
	Enabled      bool     `yaml:"enabled"`
	TargetPath   string   `yaml:"target_path"`   // Binary to replace, empty means the running executable
	MaxSizeMB    int      `yaml:"max_size_mb"`   // Upload limit (default: 64)
	RestartDelay Duration `yaml:"restart_delay"` // Delay between the response and the restart (default: 500ms)
}

// MetricsConfig contains Prometheus settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Path            string   `yaml:"path"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
	BatchSize       int      `yaml:"batch_size"`     // Events per write transaction (default: 32)
	FlushInterval   Duration `yaml:"flush_interval"` // Max time an event waits for its batch (default: 1s)
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// SystemdConfig contains service manager integration settings
type SystemdConfig struct {
	Notify *bool `yaml:"notify"` // sd_notify READY/STOPPING and watchdog pings (default: true)
}

// NotifyEnabled returns whether sd_notify is used
func (c *SystemdConfig) NotifyEnabled() bool {
	return c.Notify == nil || *c.Notify
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
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

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration data, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// CAN defaults
	if cfg.CAN.Interface == "" {
		cfg.CAN.Interface = "can0"
	}
	if cfg.CAN.ReceiveTimeout == 0 {
		cfg.CAN.ReceiveTimeout = Duration(time.Second)
	}

	// Strip defaults
	stripDefaults(&cfg.Lights.Dashboard)
	stripDefaults(&cfg.Lights.Door)

	// Animation defaults
	if cfg.Animation.FadeSteps == 0 {
		cfg.Animation.FadeSteps = command.DefaultFadeSteps
	}
	if cfg.Animation.FadeDelay == 0 {
		cfg.Animation.FadeDelay = Duration(command.DefaultFadeDelay)
	}
	if cfg.Animation.SequentialSteps == 0 {
		cfg.Animation.SequentialSteps = command.DefaultSequentialSteps
	}
	if cfg.Animation.SequentialDelay == 0 {
		cfg.Animation.SequentialDelay = Duration(command.DefaultSequentialDelay)
	}

	if cfg.Ambient.StartupColor == "" {
		cfg.Ambient.StartupColor = "#646464"
	}

	// HTTP defaults
	if cfg.HTTP.Host == "" {
		cfg.HTTP.Host = "0.0.0.0"
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
	if cfg.HTTP.RateLimitRPS == 0 {
		cfg.HTTP.RateLimitRPS = 5
	}
	if cfg.HTTP.RateLimitBurst == 0 {
		cfg.HTTP.RateLimitBurst = 10
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = Duration(30 * time.Second)
	}

	// OTA defaults
	if cfg.OTA.MaxSizeMB == 0 {
		cfg.OTA.MaxSizeMB = 64
	}
	if cfg.OTA.RestartDelay == 0 {
		cfg.OTA.RestartDelay = Duration(500 * time.Millisecond)
	}

	// Ledger defaults
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = "./ambientd.sqlite"
	}
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}
	if cfg.Ledger.BatchSize == 0 {
		cfg.Ledger.BatchSize = 32
	}
	if cfg.Ledger.FlushInterval == 0 {
		cfg.Ledger.FlushInterval = Duration(time.Second)
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

func stripDefaults(s *StripConfig) {
	if s.Driver == "" {
		s.Driver = strip.DriverSPI
	}
	if s.LEDs == 0 {
		s.LEDs = 60
	}
	if s.SPIFreqKHz == 0 {
		s.SPIFreqKHz = 800
	}
	if s.OPCTimeout == 0 {
		s.OPCTimeout = Duration(2 * time.Second)
	}
}

func (cfg *Config) validate() error {
	for name, s := range map[string]StripConfig{
		"dashboard": cfg.Lights.Dashboard,
		"door":      cfg.Lights.Door,
	} {
		if err := validateStrip(s); err != nil {
			return fmt.Errorf("lights.%s: %w", name, err)
		}
	}

	a := cfg.Animation
	if a.FadeSteps < 1 || a.SequentialSteps < 1 {
		return fmt.Errorf("animation: steps must be at least 1")
	}
	if a.FadeDelay < 0 || a.SequentialDelay < 0 {
		return fmt.Errorf("animation: delays must not be negative")
	}

	if _, err := color.ParseHex(cfg.Ambient.StartupColor); err != nil {
		return fmt.Errorf("ambient.startup_color: %w", err)
	}

	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port: %d out of range", cfg.HTTP.Port)
	}
	if cfg.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must not be negative")
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", cfg.Log.Level)
	}
	return nil
}

func validateStrip(s StripConfig) error {
	if s.LEDs < 0 {
		return fmt.Errorf("leds must be positive, got %d", s.LEDs)
	}
	switch s.Driver {
	case strip.DriverSPI, strip.DriverMemory:
	case strip.DriverOPC:
		if s.OPCAddr == "" {
			return fmt.Errorf("opc_addr is required for the opc driver")
		}
		if s.OPCChannel < 0 || s.OPCChannel > 255 {
			return fmt.Errorf("opc_channel %d out of range", s.OPCChannel)
		}
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
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
