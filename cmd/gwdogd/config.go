package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gordian-engine/gwdog/ghwdog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// daemonConfig is everything gwdogd needs, after merging defaults,
// the config file, the environment, and flags, in increasing precedence.
type daemonConfig struct {
	Bridge ghwdog.Config

	// How often the hardware watchdog is kicked while every subsystem is healthy.
	KickInterval time.Duration

	// Heartbeat monitor for the daemon's own main loop.
	HeartbeatInterval, HeartbeatTimeout time.Duration

	LogFormat, LogLevel string
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{
		Bridge: ghwdog.DefaultConfig(),

		KickInterval: 5 * time.Second,

		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  10 * time.Second,

		LogFormat: "text",
		LogLevel:  "info",
	}
}

func (c daemonConfig) validate() error {
	err := c.Bridge.Validate()

	if c.KickInterval <= 0 {
		err = errors.Join(err, fmt.Errorf("kick interval must be positive (got %s)", c.KickInterval))
	}
	if c.HeartbeatInterval < time.Millisecond {
		err = errors.Join(err, fmt.Errorf("heartbeat interval must be at least 1ms (got %s)", c.HeartbeatInterval))
	}
	if c.HeartbeatTimeout <= 0 {
		err = errors.Join(err, fmt.Errorf("heartbeat timeout must be positive (got %s)", c.HeartbeatTimeout))
	}

	return err
}

// fileConfig is the on-disk TOML layout.
// Durations are strings accepted by [time.ParseDuration].
type fileConfig struct {
	Device          string `toml:"device"`
	Module          string `toml:"module"`
	Enabled         bool   `toml:"enabled"`
	MaxOpenAttempts int    `toml:"max_open_attempts"`
	RetryInterval   string `toml:"retry_interval"`
	Timeout         string `toml:"timeout"`
	KeepAliveByte   string `toml:"keepalive_byte"`
	DisarmByte      string `toml:"disarm_byte"`

	KickInterval      string `toml:"kick_interval"`
	HeartbeatInterval string `toml:"heartbeat_interval"`
	HeartbeatTimeout  string `toml:"heartbeat_timeout"`

	LogFormat string `toml:"log_format"`
	LogLevel  string `toml:"log_level"`
}

// applyFile overlays the keys defined in the TOML file at path onto cfg.
// Keys absent from the file leave cfg unchanged.
func applyFile(cfg *daemonConfig, path string) error {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load config file: %w", err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config file key(s): %s", strings.Join(keys, ", "))
	}

	if meta.IsDefined("device") {
		cfg.Bridge.DevicePath = strings.TrimSpace(raw.Device)
	}
	if meta.IsDefined("module") {
		cfg.Bridge.Module = strings.TrimSpace(raw.Module)
	}
	if meta.IsDefined("enabled") {
		cfg.Bridge.Enabled = raw.Enabled
	}
	if meta.IsDefined("max_open_attempts") {
		cfg.Bridge.MaxOpenAttempts = raw.MaxOpenAttempts
	}

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"retry_interval", raw.RetryInterval, &cfg.Bridge.RetryInterval},
		{"timeout", raw.Timeout, &cfg.Bridge.Timeout},
		{"kick_interval", raw.KickInterval, &cfg.KickInterval},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
		{"heartbeat_timeout", raw.HeartbeatTimeout, &cfg.HeartbeatTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.val))
		if err != nil {
			return fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("keepalive_byte") {
		b, err := parseByte(raw.KeepAliveByte)
		if err != nil {
			return fmt.Errorf("parse keepalive_byte: %w", err)
		}
		cfg.Bridge.KeepAliveByte = b
	}
	if meta.IsDefined("disarm_byte") {
		b, err := parseByte(raw.DisarmByte)
		if err != nil {
			return fmt.Errorf("parse disarm_byte: %w", err)
		}
		cfg.Bridge.DisarmByte = b
	}

	if meta.IsDefined("log_format") {
		cfg.LogFormat = strings.TrimSpace(raw.LogFormat)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	return nil
}

func parseByte(s string) (byte, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("must be exactly one byte (got %q)", s)
	}
	return s[0], nil
}

// Flag names double as viper keys; the environment variable for each
// is GWDOG_ followed by the upper-cased name with dashes as underscores.
const (
	configFlag = "config"

	deviceFlag          = "device"
	moduleFlag          = "module"
	enabledFlag         = "enabled"
	maxOpenAttemptsFlag = "max-open-attempts"
	retryIntervalFlag   = "retry-interval"
	timeoutFlag         = "timeout"

	kickIntervalFlag      = "kick-interval"
	heartbeatIntervalFlag = "heartbeat-interval"
	heartbeatTimeoutFlag  = "heartbeat-timeout"

	logFormatFlag = "log-format"
	logLevelFlag  = "log-level"
)

// envPrefix is the prefix for every environment variable read through viper.
const envPrefix = "GWDOG"

// addConfigFlags registers every configuration flag on flags.
// The defaults shown are the built-in defaults;
// a flag only takes effect when set explicitly.
func addConfigFlags(flags *pflag.FlagSet) {
	d := defaultDaemonConfig()

	flags.String(configFlag, "", "Path to a TOML config file")

	flags.String(deviceFlag, d.Bridge.DevicePath, "Path to the watchdog device node")
	flags.String(moduleFlag, d.Bridge.Module, "Kernel module to load before opening the device; if blank, nothing is loaded")
	flags.Bool(enabledFlag, d.Bridge.Enabled, "Whether a hardware watchdog is expected; if false, no device is opened")
	flags.Int(maxOpenAttemptsFlag, d.Bridge.MaxOpenAttempts, "Attempts to open the device before exiting fatally")
	flags.Duration(retryIntervalFlag, d.Bridge.RetryInterval, "Pause between failed attempts to open the device")
	flags.Duration(timeoutFlag, d.Bridge.Timeout, "If positive, set the driver timeout after opening the device")

	flags.Duration(kickIntervalFlag, d.KickInterval, "Interval between kicks while all subsystems are healthy")
	flags.Duration(heartbeatIntervalFlag, d.HeartbeatInterval, "Interval between heartbeat checks of the daemon's main loop")
	flags.Duration(heartbeatTimeoutFlag, d.HeartbeatTimeout, "Time allowed for the daemon's main loop to answer a heartbeat")

	flags.String(logFormatFlag, d.LogFormat, "Log format (text|json)")
	flags.String(logLevelFlag, d.LogLevel, "Log level (debug|info|warn|error)")
}

// newViper returns a viper instance reading GWDOG_* environment variables
// and bound to flags, so that IsSet reports explicitly set values only.
func newViper(flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(flags); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// loadConfig resolves the daemon configuration from defaults,
// the optional config file, the environment, and flags.
func loadConfig(flags *pflag.FlagSet) (daemonConfig, error) {
	v, err := newViper(flags)
	if err != nil {
		return daemonConfig{}, err
	}

	cfg := defaultDaemonConfig()

	if path := v.GetString(configFlag); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return daemonConfig{}, err
		}
	}

	if v.IsSet(deviceFlag) {
		cfg.Bridge.DevicePath = v.GetString(deviceFlag)
	}
	if v.IsSet(moduleFlag) {
		cfg.Bridge.Module = v.GetString(moduleFlag)
	}
	if v.IsSet(enabledFlag) {
		cfg.Bridge.Enabled = v.GetBool(enabledFlag)
	}
	if v.IsSet(maxOpenAttemptsFlag) {
		cfg.Bridge.MaxOpenAttempts = v.GetInt(maxOpenAttemptsFlag)
	}
	if v.IsSet(retryIntervalFlag) {
		cfg.Bridge.RetryInterval = v.GetDuration(retryIntervalFlag)
	}
	if v.IsSet(timeoutFlag) {
		cfg.Bridge.Timeout = v.GetDuration(timeoutFlag)
	}
	if v.IsSet(kickIntervalFlag) {
		cfg.KickInterval = v.GetDuration(kickIntervalFlag)
	}
	if v.IsSet(heartbeatIntervalFlag) {
		cfg.HeartbeatInterval = v.GetDuration(heartbeatIntervalFlag)
	}
	if v.IsSet(heartbeatTimeoutFlag) {
		cfg.HeartbeatTimeout = v.GetDuration(heartbeatTimeoutFlag)
	}
	if v.IsSet(logFormatFlag) {
		cfg.LogFormat = v.GetString(logFormatFlag)
	}
	if v.IsSet(logLevelFlag) {
		cfg.LogLevel = v.GetString(logLevelFlag)
	}

	if err := cfg.validate(); err != nil {
		return daemonConfig{}, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// writeConfig writes cfg to w in the same TOML layout applyFile reads.
func writeConfig(w io.Writer, cfg daemonConfig) error {
	raw := fileConfig{
		Device:          cfg.Bridge.DevicePath,
		Module:          cfg.Bridge.Module,
		Enabled:         cfg.Bridge.Enabled,
		MaxOpenAttempts: cfg.Bridge.MaxOpenAttempts,
		RetryInterval:   cfg.Bridge.RetryInterval.String(),
		Timeout:         cfg.Bridge.Timeout.String(),
		KeepAliveByte:   string([]byte{cfg.Bridge.KeepAliveByte}),
		DisarmByte:      string([]byte{cfg.Bridge.DisarmByte}),

		KickInterval:      cfg.KickInterval.String(),
		HeartbeatInterval: cfg.HeartbeatInterval.String(),
		HeartbeatTimeout:  cfg.HeartbeatTimeout.String(),

		LogFormat: cfg.LogFormat,
		LogLevel:  cfg.LogLevel,
	}

	return toml.NewEncoder(w).Encode(raw)
}
