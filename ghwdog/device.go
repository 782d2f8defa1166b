package ghwdog

import (
	"io"
	"sync"
	"time"
)

// Device is an open watchdog device node.
// The bridge only ever writes single bytes to it.
type Device = io.WriteCloser

// Opener opens the watchdog device at path for writing.
type Opener func(path string) (Device, error)

// TimeoutSetter is optionally implemented by a [Device]
// whose driver timeout can be configured.
// SetTimeout reports the timeout the driver actually applied.
type TimeoutSetter interface {
	SetTimeout(time.Duration) (time.Duration, error)
}

// OpenDevice is the default [Opener].
// It opens path write-only, without inheriting it across exec.
func OpenDevice(path string) (Device, error) {
	return openDevice(path)
}

// handle is the bridge's single watchdog handle.
// The zero value is unopened.
//
// All access goes through mu, so the termination handler
// and the caller's kicks never interleave on the device.
type handle struct {
	mu sync.Mutex

	dev Device

	// Set once the termination handler has run.
	// A closed handle never accepts a device again.
	closed bool
}

// set stores dev as the open device.
// It reports false, and leaves dev for the caller to close,
// if a device is already open or the handle was closed by termination.
func (h *handle) set(dev Device) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.dev != nil || h.closed {
		return false
	}
	h.dev = dev
	return true
}

func (h *handle) isOpen() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev != nil
}
