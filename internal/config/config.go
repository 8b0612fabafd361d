// Package config holds the deepfocus configuration model, file loading and
// validation. Every scan-facing value is validated before a scan is allowed
// to start; invalid values reject the scan with a descriptive error.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/Y0oshi/deepfocus/internal/errors"
)

// Limits for user-facing scan settings.
const (
	MinPowerLevel  = 10
	MaxPowerLevel  = 100
	MinThreadCount = 100
	MaxThreadCount = 1000

	// Networks wider than a /8 are rejected to prevent accidental
	// resource exhaustion.
	MinPrefixLen = 8
)

// Config represents the complete deepfocus configuration.
type Config struct {
	// Scanning configuration
	Scanning ScanningConfig `yaml:"scanning" json:"scanning"`

	// Governor configuration
	Governor GovernorConfig `yaml:"governor" json:"governor"`

	// Result store configuration
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Export configuration
	Export ExportConfig `yaml:"export" json:"export"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// ScanningConfig holds scan-related settings.
type ScanningConfig struct {
	// Target network in CIDR notation
	TargetNetwork string `yaml:"target_network" json:"target_network" validate:"required,cidrv4"`

	// Power level controls the thermal ceiling (percent)
	PowerLevel int `yaml:"power_level" json:"power_level" validate:"min=10,max=100"`

	// Upper bound on concurrent probe workers
	ThreadCount int `yaml:"thread_count" json:"thread_count" validate:"min=100,max=1000"`

	// Ports probed on every host
	Ports []int `yaml:"ports" json:"ports" validate:"required,min=1,dive,min=1,max=65535"`

	// Total budget per probe
	ProbeTimeout time.Duration `yaml:"probe_timeout" json:"probe_timeout"`

	// Budget per connect/read/write step within a probe
	StepTimeout time.Duration `yaml:"step_timeout" json:"step_timeout"`

	// Resolve PTR records for hosts with live services
	EnableReverseDNS bool `yaml:"enable_reverse_dns" json:"enable_reverse_dns"`

	// Resolver used for PTR lookups (host:port)
	Resolver string `yaml:"resolver" json:"resolver"`

	// Run an nmap ping sweep first and only probe responsive hosts
	Prefilter bool `yaml:"prefilter" json:"prefilter"`

	// Optional cron expression re-running the configured range
	RescanCron string `yaml:"rescan_cron" json:"rescan_cron"`
}

// GovernorConfig holds load-governor tuning. The thresholds operate on
// normalized load (loadavg divided by CPU count).
type GovernorConfig struct {
	// Sampling interval
	SampleInterval time.Duration `yaml:"sample_interval" json:"sample_interval"`

	// Ceiling = BaseCeiling + CeilingSpan * power/100
	BaseCeiling float64 `yaml:"base_ceiling" json:"base_ceiling" validate:"gt=0"`
	CeilingSpan float64 `yaml:"ceiling_span" json:"ceiling_span" validate:"gt=0"`

	// Pause threshold = ceiling * PauseFactor
	PauseFactor float64 `yaml:"pause_factor" json:"pause_factor" validate:"gt=1"`

	// Recovery floor = ceiling * CooldownRatio (hysteresis)
	CooldownRatio float64 `yaml:"cooldown_ratio" json:"cooldown_ratio" validate:"gt=0,lt=1"`
}

// DatabaseConfig holds result store settings.
type DatabaseConfig struct {
	// SQLite database path
	Path string `yaml:"path" json:"path" validate:"required"`

	// Retention window for unreachable records pruned by maintenance
	PruneAfter time.Duration `yaml:"prune_after" json:"prune_after"`
}

// ExportConfig holds export pipeline settings.
type ExportConfig struct {
	// Directory receiving timestamped export files
	Directory string `yaml:"directory" json:"directory" validate:"required"`
}

// APIConfig holds control API settings.
type APIConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	ListenAddr     string        `yaml:"listen_addr" json:"listen_addr"`
	Port           int           `yaml:"port" json:"port" validate:"min=0,max=65535"`
	EnableCORS     bool          `yaml:"enable_cors" json:"enable_cors"`
	CORSOrigins    []string      `yaml:"cors_origins" json:"cors_origins"`
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// Interval between websocket snapshot frames
	LivePushInterval time.Duration `yaml:"live_push_interval" json:"live_push_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" json:"format" validate:"oneof=text json"`
	Output string `yaml:"output" json:"output"`
}

// DefaultPorts is the standard probe set, covering every protocol the probe
// engine classifies.
var DefaultPorts = []int{80, 443, 22, 21, 23, 8080, 5900, 554, 3389, 1883, 161}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Scanning: ScanningConfig{
			TargetNetwork:    "192.168.1.0/24",
			PowerLevel:       50,
			ThreadCount:      300,
			Ports:            append([]int(nil), DefaultPorts...),
			ProbeTimeout:     5 * time.Second,
			StepTimeout:      2 * time.Second,
			EnableReverseDNS: false,
			Resolver:         "1.1.1.1:53",
			Prefilter:        false,
			RescanCron:       "",
		},
		Governor: GovernorConfig{
			SampleInterval: 5 * time.Second,
			BaseCeiling:    0.15,
			CeilingSpan:    0.85,
			PauseFactor:    1.5,
			CooldownRatio:  0.6,
		},
		Database: DatabaseConfig{
			Path:       "results.db",
			PruneAfter: 7 * 24 * time.Hour,
		},
		Export: ExportConfig{
			Directory: "./exports",
		},
		API: APIConfig{
			Enabled:          false,
			ListenAddr:       "127.0.0.1",
			Port:             8870,
			EnableCORS:       true,
			CORSOrigins:      []string{"*"},
			RequestTimeout:   30 * time.Second,
			LivePushInterval: 2 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load loads configuration from a file, merged over defaults. A missing
// file is not an error; the defaults are returned.
func Load(path string) (*Config, error) {
	config := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Save saves configuration to a file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

var validate = validator.New()

// Validate validates the configuration. Struct tags cover the numeric
// ranges; range width and resolver syntax need explicit checks.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			first := verrs[0]
			return errors.NewConfigFieldError(errors.CodeValidation,
				fmt.Sprintf("validation failed on '%s' rule", first.Tag()),
				first.Namespace(), first.Value())
		}
		return err
	}

	// cidrv4 accepts any prefix length; enforce the /8 width cap here.
	_, ipnet, err := net.ParseCIDR(c.Scanning.TargetNetwork)
	if err != nil {
		return errors.NewConfigFieldError(errors.CodeValidation,
			"target network is not a valid CIDR", "scanning.target_network", c.Scanning.TargetNetwork)
	}
	if ones, bits := ipnet.Mask.Size(); bits != 32 || ones < MinPrefixLen {
		return errors.NewConfigFieldError(errors.CodeValidation,
			fmt.Sprintf("target network wider than /%d is not allowed", MinPrefixLen),
			"scanning.target_network", c.Scanning.TargetNetwork)
	}

	if c.Scanning.EnableReverseDNS {
		if _, _, err := net.SplitHostPort(c.Scanning.Resolver); err != nil {
			return errors.NewConfigFieldError(errors.CodeValidation,
				"resolver must be host:port", "scanning.resolver", c.Scanning.Resolver)
		}
	}

	if c.Scanning.ProbeTimeout <= 0 || c.Scanning.StepTimeout <= 0 {
		return errors.NewConfigError(errors.CodeValidation, "probe and step timeouts must be positive")
	}
	if c.Scanning.StepTimeout > c.Scanning.ProbeTimeout {
		return errors.NewConfigError(errors.CodeValidation, "step timeout cannot exceed probe timeout")
	}

	if c.Governor.SampleInterval <= 0 {
		return errors.NewConfigError(errors.CodeValidation, "governor sample interval must be positive")
	}

	return nil
}

// ApplyPowerLevel recomputes the clamped power level. The original tool
// derived a load ceiling directly from the power percentage; the governor
// does the same through GovernorConfig, so only clamping happens here.
func (c *Config) ApplyPowerLevel(power int) {
	if power < MinPowerLevel {
		power = MinPowerLevel
	}
	if power > MaxPowerLevel {
		power = MaxPowerLevel
	}
	c.Scanning.PowerLevel = power
}

// ApplyThreadCount clamps and sets the worker budget.
func (c *Config) ApplyThreadCount(threads int) {
	if threads < MinThreadCount {
		threads = MinThreadCount
	}
	if threads > MaxThreadCount {
		threads = MaxThreadCount
	}
	c.Scanning.ThreadCount = threads
}

// GetAPIAddress returns the full API listen address.
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.ListenAddr, c.API.Port)
}
