//go:build !linux

package ghwdog

import (
	"fmt"
	"os"
)

// Outside Linux there is no standard watchdog ioctl interface,
// so the device is a plain file without timeout support.
func openDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening watchdog device %s: %w", path, err)
	}
	return f, nil
}
