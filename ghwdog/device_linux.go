//go:build linux

package ghwdog

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// fdDevice is a watchdog node opened directly with open(2),
// so that writes are single write(2) calls and ioctls can use the descriptor.
type fdDevice struct {
	fd   int
	path string
}

func openDevice(path string) (Device, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening watchdog device %s: %w", path, err)
	}
	return &fdDevice{fd: fd, path: path}, nil
}

func (d *fdDevice) Write(p []byte) (int, error) {
	n, err := unix.Write(d.fd, p)
	if n < 0 {
		n = 0
	}
	if err != nil {
		return n, fmt.Errorf("writing watchdog device %s: %w", d.path, err)
	}
	return n, nil
}

func (d *fdDevice) Close() error {
	if err := unix.Close(d.fd); err != nil {
		return fmt.Errorf("closing watchdog device %s: %w", d.path, err)
	}
	return nil
}

// SetTimeout applies WDIOC_SETTIMEOUT and reads back the driver's value,
// since drivers may round to what the hardware supports.
func (d *fdDevice) SetTimeout(t time.Duration) (time.Duration, error) {
	secs := int(t / time.Second)
	if secs < 1 {
		secs = 1
	}

	if err := unix.IoctlSetPointerInt(d.fd, unix.WDIOC_SETTIMEOUT, secs); err != nil {
		return 0, fmt.Errorf("setting watchdog timeout to %ds: %w", secs, err)
	}

	got, err := unix.IoctlGetInt(d.fd, unix.WDIOC_GETTIMEOUT)
	if err != nil {
		return 0, fmt.Errorf("reading back watchdog timeout: %w", err)
	}

	return time.Duration(got) * time.Second, nil
}
