package ghwdog

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultDevicePath is the watchdog node exposed by the Linux watchdog core.
	DefaultDevicePath = "/dev/watchdog"

	// DefaultMaxOpenAttempts is how many times Init tries to open the device
	// before giving up.
	DefaultMaxOpenAttempts = 8

	// DefaultRetryInterval is the pause between failed open attempts.
	DefaultRetryInterval = time.Second

	// DefaultKeepAliveByte is written to the device on every kick.
	DefaultKeepAliveByte byte = 'k'

	// DefaultDisarmByte is the "magic close" byte.
	// Drivers that honor it stop the timer when the device is closed after receiving it.
	DefaultDisarmByte byte = 'V'
)

// Config is the configuration for a [*Bridge].
type Config struct {
	// Path to the watchdog device node.
	DevicePath string

	// Kernel module to load before opening the device.
	// If empty, no module is loaded.
	Module string

	// Whether a hardware watchdog is expected at all.
	// When false, [New] returns a bridge that never opens a device.
	Enabled bool

	// Open attempts before Init gives up, and the pause between them.
	MaxOpenAttempts int
	RetryInterval   time.Duration

	// Bytes written to the device for keep-alive and disarm.
	KeepAliveByte, DisarmByte byte

	// If positive, the driver timeout is set to this value after opening.
	// Drivers work in whole seconds, so the value is truncated,
	// with a minimum of one second.
	Timeout time.Duration
}

// DefaultConfig returns a Config for an enabled watchdog at [DefaultDevicePath].
func DefaultConfig() Config {
	return Config{
		DevicePath: DefaultDevicePath,
		Enabled:    true,

		MaxOpenAttempts: DefaultMaxOpenAttempts,
		RetryInterval:   DefaultRetryInterval,

		KeepAliveByte: DefaultKeepAliveByte,
		DisarmByte:    DefaultDisarmByte,
	}
}

// Validate reports every problem with c, joined into a single error.
// A disabled config is always valid,
// since none of its device settings are used.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	var err error
	if c.DevicePath == "" {
		err = errors.Join(err, errors.New("Config.DevicePath must not be empty"))
	}

	if c.MaxOpenAttempts <= 0 {
		err = errors.Join(err, fmt.Errorf("Config.MaxOpenAttempts must be positive (got %d)", c.MaxOpenAttempts))
	}

	if c.RetryInterval < 0 {
		err = errors.Join(err, fmt.Errorf("Config.RetryInterval must not be negative (got %s)", c.RetryInterval))
	}

	if c.KeepAliveByte == c.DisarmByte {
		err = errors.Join(err, fmt.Errorf(
			"Config.KeepAliveByte and Config.DisarmByte must differ (both %q)", c.KeepAliveByte,
		))
	}

	if c.Timeout < 0 {
		err = errors.Join(err, fmt.Errorf("Config.Timeout must not be negative (got %s)", c.Timeout))
	}

	return err
}
