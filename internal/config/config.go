package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/silmaril/trickle/internal/storage"
	"github.com/silmaril/trickle/pkg/throttle"
)

var ErrInvalidProfile = errors.New("invalid rate profile")

// Config represents the trickle configuration
type Config struct {
	// Pacing applied to the read side of throttled streams
	Read RateProfile `mapstructure:"read"`

	// Pacing applied to the write side of throttled streams
	Write RateProfile `mapstructure:"write"`

	// TCP relay settings
	Relay RelayConfig `mapstructure:"relay"`

	// HTTP API and file server settings
	Server ServerConfig `mapstructure:"server"`

	// UI settings
	UI UIConfig `mapstructure:"ui"`
}

// RateProfile is the on-disk form of a throttle.RateConfig. Sizes accept
// human readable values such as "64KiB" or "1MB".
type RateProfile struct {
	WindowLength     string        `mapstructure:"window_length" yaml:"window_length"`
	WindowTime       time.Duration `mapstructure:"window_time" yaml:"window_time"`
	BucketSize       string        `mapstructure:"bucket_size" yaml:"bucket_size"`
	MinOperationSize string        `mapstructure:"min_operation_size" yaml:"min_operation_size"`
	Timeout          time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

type RelayConfig struct {
	Listen      string        `mapstructure:"listen"`
	Upstream    string        `mapstructure:"upstream"`
	AcceptRate  float64       `mapstructure:"accept_rate"`
	AcceptBurst int           `mapstructure:"accept_burst"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type ServerConfig struct {
	Listen          string        `mapstructure:"listen"`
	Root            string        `mapstructure:"root"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type UIConfig struct {
	ProgressBar  bool   `mapstructure:"progress_bar"`
	Verbose      bool   `mapstructure:"verbose"`
	OutputFormat string `mapstructure:"output_format"`
}

var (
	cfg *Config
	v   *viper.Viper
)

// Initialize sets up the configuration. A non-empty configFile is read
// instead of searching the default locations.
func Initialize(configFile string) error {
	v = viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// 1. Same directory as executable
		if exe, err := os.Executable(); err == nil {
			v.AddConfigPath(filepath.Dir(exe))
		}

		// 2. Current working directory
		v.AddConfigPath(".")

		// 3. User config directory
		if configDir, err := storage.ConfigDir(); err == nil {
			v.AddConfigPath(configDir)
		}
	}

	setDefaults(v)

	// TRICKLE_READ_WINDOW_LENGTH overrides read.window_length
	v.SetEnvPrefix("TRICKLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is ok, we'll use defaults
	}

	c, err := load(v)
	if err != nil {
		return err
	}
	cfg = c
	return nil
}

func load(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	c.Server.Root = expandPath(c.Server.Root)

	if _, _, err := c.Read.RateConfig(); err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if _, _, err := c.Write.RateConfig(); err != nil {
		return nil, fmt.Errorf("write: %w", err)
	}
	return c, nil
}

// setDefaults sets all default values
func setDefaults(v *viper.Viper) {
	// Rate defaults: empty window length means unlimited
	for _, side := range []string{"read", "write"} {
		v.SetDefault(side+".window_length", "")
		v.SetDefault(side+".window_time", time.Second)
		v.SetDefault(side+".bucket_size", "")
		v.SetDefault(side+".min_operation_size", "")
		v.SetDefault(side+".timeout", time.Duration(0))
	}

	// Relay defaults
	v.SetDefault("relay.listen", "127.0.0.1:9400")
	v.SetDefault("relay.upstream", "")
	v.SetDefault("relay.accept_rate", 0.0) // Unlimited
	v.SetDefault("relay.accept_burst", 16)
	v.SetDefault("relay.dial_timeout", 10*time.Second)

	// Server defaults
	v.SetDefault("server.listen", "127.0.0.1:8737")
	v.SetDefault("server.root", ".")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	// UI defaults
	v.SetDefault("ui.progress_bar", true)
	v.SetDefault("ui.verbose", false)
	v.SetDefault("ui.output_format", "text") // text or json
}

// RateConfig converts the profile into an engine config. The boolean is
// false when the profile leaves the direction unlimited.
func (p RateProfile) RateConfig() (throttle.RateConfig, bool, error) {
	wl, err := parseSize(p.WindowLength)
	if err != nil {
		return throttle.RateConfig{}, false, fmt.Errorf("window_length: %w", err)
	}
	if wl == 0 {
		return throttle.RateConfig{}, false, nil
	}

	wt := p.WindowTime
	if wt == 0 {
		wt = time.Second
	}

	bucket, err := parseSize(p.BucketSize)
	if err != nil {
		return throttle.RateConfig{}, false, fmt.Errorf("bucket_size: %w", err)
	}
	if bucket == 0 {
		bucket = wl
	}

	rc, err := throttle.NewRateConfig(wl, wt, bucket)
	if err != nil {
		return throttle.RateConfig{}, false, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}

	minOp, err := parseSize(p.MinOperationSize)
	if err != nil {
		return throttle.RateConfig{}, false, fmt.Errorf("min_operation_size: %w", err)
	}
	if minOp > 0 {
		if err := rc.SetMinOperationSize(minOp); err != nil {
			return throttle.RateConfig{}, false, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
		}
	}

	if p.Timeout < 0 {
		return throttle.RateConfig{}, false, fmt.Errorf("%w: negative timeout %v", ErrInvalidProfile, p.Timeout)
	}
	rc.SetTimeout(p.Timeout)

	return rc, true, nil
}

// RateConfigs converts both profiles. A nil result leaves that direction
// unlimited.
func (c *Config) RateConfigs() (read, write *throttle.RateConfig, err error) {
	rc, ok, err := c.Read.RateConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("read: %w", err)
	}
	if ok {
		read = &rc
	}
	wc, ok, err := c.Write.RateConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("write: %w", err)
	}
	if ok {
		write = &wc
	}
	return read, write, nil
}

// Limited reports whether the profile paces its direction.
func (p RateProfile) Limited() bool {
	wl, err := parseSize(p.WindowLength)
	return err == nil && wl > 0
}

func parseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidProfile, err)
	}
	return n, nil
}

// expandPath expands ~ and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand ~
	if path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[1:])
		}
	}

	// Expand environment variables
	return os.ExpandEnv(path)
}

// Get returns the current configuration
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// GetViper returns the viper instance
func GetViper() *viper.Viper {
	if v == nil {
		panic("config not initialized")
	}
	return v
}

// WriteDefault writes a config file holding the default values to path.
func WriteDefault(path string) error {
	dv := viper.New()
	setDefaults(dv)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
	}
	if err := dv.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
