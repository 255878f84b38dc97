package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Default locations
const (
	DefaultFstabPath     = "/etc/fstab"
	DefaultHostRoot      = "/host"
	SwapDevicesEnvVar    = "SWAP_DEVICES"
	testSwapSummaryFile  = "test/swaps.txt"
	testFstabPath        = "test/fstab"
	defaultNotMountedMsg = "not mounted"
)

// Config holds the application configuration
type Config struct {
	Mode         string // Operation mode: "test", "direct", or "chroot"
	LogLevel     string // Log level: "info" or "debug"
	DryRun       bool   // If true, report planned changes without applying them
	StrictVerify bool   // If true, a device that is not active after the run fails the run

	// Devices requested as swap, in the order given
	SwapDevices []string

	// Mount table to rewrite
	FstabPath string

	// Prefix applied to device paths when inspecting them from this process.
	// Empty unless the host filesystem is mounted elsewhere (chroot mode).
	HostRoot string

	// Substrings of umount output meaning the device was not mounted
	NotMountedMessages []string

	// Commands
	SwapSummaryCmd []string
	UnmountCmd     []string
	FormatSwapCmd  []string
	MountAllCmd    []string
	SwapOnAllCmd   []string
}

// fileConfig is the YAML representation of the optional config file
type fileConfig struct {
	SwapDevices        []string `yaml:"swap_devices"`
	FstabPath          string   `yaml:"fstab_path"`
	DryRun             *bool    `yaml:"dry_run"`
	StrictVerify       *bool    `yaml:"strict_verify"`
	NotMountedMessages []string `yaml:"not_mounted_messages"`
}

// NewConfig creates a new configuration from defaults and the environment
func NewConfig(mode string) *Config {
	cfg := newDefaultConfig(mode)
	cfg.applyEnv()
	return cfg
}

// NewConfigFromFile creates a configuration from defaults, the YAML file at
// path and the environment, in increasing order of precedence
func NewConfigFromFile(mode, path string) (*Config, error) {
	cfg := newDefaultConfig(mode)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.applyFile(&fc)
	cfg.applyEnv()

	return cfg, nil
}

func newDefaultConfig(mode string) *Config {
	cfg := &Config{
		Mode:               mode,
		LogLevel:           "info",
		FstabPath:          DefaultFstabPath,
		NotMountedMessages: []string{defaultNotMountedMsg},
	}

	switch mode {
	case "test":
		cfg.FstabPath = testFstabPath
		cfg.SwapSummaryCmd = []string{"cat", testSwapSummaryFile}
		cfg.UnmountCmd = []string{"true"}
		cfg.FormatSwapCmd = []string{"true"}
		cfg.MountAllCmd = []string{"true"}
		cfg.SwapOnAllCmd = []string{"true"}
	case "chroot":
		cfg.HostRoot = DefaultHostRoot
		cfg.FstabPath = filepath.Join(DefaultHostRoot, DefaultFstabPath)
		chroot := []string{"chroot", DefaultHostRoot}
		cfg.SwapSummaryCmd = withPrefix(chroot, "swapon", "--summary")
		cfg.UnmountCmd = withPrefix(chroot, "umount")
		cfg.FormatSwapCmd = withPrefix(chroot, "mkswap", "--force")
		cfg.MountAllCmd = withPrefix(chroot, "mount", "--all")
		cfg.SwapOnAllCmd = withPrefix(chroot, "swapon", "--all")
	default:
		cfg.SwapSummaryCmd = []string{"swapon", "--summary"}
		cfg.UnmountCmd = []string{"umount"}
		cfg.FormatSwapCmd = []string{"mkswap", "--force"}
		cfg.MountAllCmd = []string{"mount", "--all"}
		cfg.SwapOnAllCmd = []string{"swapon", "--all"}
	}

	return cfg
}

// withPrefix returns a fresh slice so callers appending arguments never share
// a backing array
func withPrefix(prefix []string, args ...string) []string {
	out := make([]string, 0, len(prefix)+len(args))
	out = append(out, prefix...)
	return append(out, args...)
}

func (c *Config) applyFile(fc *fileConfig) {
	if devices := cleanList(fc.SwapDevices); len(devices) > 0 {
		c.SwapDevices = devices
	}
	if fc.FstabPath != "" {
		c.FstabPath = fc.FstabPath
	}
	if fc.DryRun != nil {
		c.DryRun = *fc.DryRun
	}
	if fc.StrictVerify != nil {
		c.StrictVerify = *fc.StrictVerify
	}
	if msgs := cleanList(fc.NotMountedMessages); len(msgs) > 0 {
		c.NotMountedMessages = msgs
	}
}

func (c *Config) applyEnv() {
	c.SwapDevices = getEnvAsStringSlice(SwapDevicesEnvVar, c.SwapDevices)
	c.FstabPath = getEnvAsString("FSTAB_PATH", c.FstabPath)
	c.DryRun = getEnvAsBool("DRY_RUN", c.DryRun)
	c.StrictVerify = getEnvAsBool("STRICT_VERIFY", c.StrictVerify)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// HostPath maps a path as seen by the host to a path readable by this process
func (c *Config) HostPath(path string) string {
	if c.HostRoot == "" {
		return path
	}
	return filepath.Join(c.HostRoot, path)
}

// Validate checks that the configuration can drive a run
func (c *Config) Validate() error {
	switch c.Mode {
	case "test", "direct", "chroot":
	default:
		return fmt.Errorf("invalid mode %q: must be one of test, direct, chroot", c.Mode)
	}
	if c.FstabPath == "" {
		return fmt.Errorf("fstab path must not be empty")
	}
	for name, cmd := range map[string][]string{
		"swap summary": c.SwapSummaryCmd,
		"unmount":      c.UnmountCmd,
		"format swap":  c.FormatSwapCmd,
		"mount all":    c.MountAllCmd,
		"swapon all":   c.SwapOnAllCmd,
	} {
		if len(cmd) == 0 {
			return fmt.Errorf("%s command must not be empty", name)
		}
	}
	return nil
}

// ParseDeviceList splits a comma-separated device list, trimming whitespace
// and dropping empty entries
func ParseDeviceList(value string) []string {
	return cleanList(strings.Split(value, ","))
}

func cleanList(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// getEnvAsString reads an environment variable or returns the default value if not set
func getEnvAsString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool reads an environment variable as a boolean,
// or returns the default value if not set or invalid
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsStringSlice reads an environment variable as a comma-separated list,
// or returns the default value if not set
func getEnvAsStringSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	result := ParseDeviceList(valueStr)
	if len(result) == 0 {
		return defaultValue
	}

	return result
}
