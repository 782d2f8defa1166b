package ghwdog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/gordian-engine/gwdog/internal/glog"
)

// Bridge owns the watchdog device handle for the life of the process.
//
// Init, Kick, and Shutdown are called by the supervising framework.
// Terminate runs the termination handler, normally from [*Bridge.HandleSignals].
// All methods are safe for concurrent use.
type Bridge struct {
	log *slog.Logger

	cfg Config

	// False for a bridge from NewNopBridge.
	enabled bool

	open   Opener
	loader ModuleLoader
	sleep  func(ctx context.Context, d time.Duration) error
	exit   func(code int)

	h handle

	// Preallocated single-byte buffers,
	// so kicking and disarming do not allocate.
	kickBuf, disarmBuf [1]byte

	terminateOnce sync.Once
}

// Opt is an option for [NewBridge] and [NewNopBridge].
type Opt func(*Bridge)

// WithOpener replaces [OpenDevice] as the way the bridge opens the device.
func WithOpener(o Opener) Opt {
	return func(b *Bridge) {
		b.open = o
	}
}

// WithModuleLoader replaces the default [ModprobeLoader].
func WithModuleLoader(l ModuleLoader) Opt {
	return func(b *Bridge) {
		b.loader = l
	}
}

// WithSleep replaces the pause between failed open attempts.
// The function must return early with the context's cause if ctx is canceled.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Opt {
	return func(b *Bridge) {
		b.sleep = fn
	}
}

// WithExit replaces [os.Exit] for the termination handler and fatal paths.
// Outside of tests there is no reason to use this.
func WithExit(fn func(code int)) Opt {
	return func(b *Bridge) {
		b.exit = fn
	}
}

// New returns a bridge for a hardware watchdog if cfg.Enabled is set,
// and otherwise the equivalent of [NewNopBridge].
func New(log *slog.Logger, cfg Config, opts ...Opt) (*Bridge, error) {
	if !cfg.Enabled {
		return NewNopBridge(log, opts...), nil
	}
	return NewBridge(log, cfg, opts...)
}

// NewBridge returns a bridge that will open cfg.DevicePath on [*Bridge.Init].
// The Enabled field of cfg is ignored.
func NewBridge(log *slog.Logger, cfg Config, opts ...Opt) (*Bridge, error) {
	cfg.Enabled = true
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid watchdog config: %w", err)
	}

	b := newBridge(log, cfg, opts)
	b.enabled = true
	return b, nil
}

// NewNopBridge returns a bridge for a system without a hardware watchdog.
// Init and Kick never touch a device.
// Shutdown and the termination handler still exit the process.
func NewNopBridge(log *slog.Logger, opts ...Opt) *Bridge {
	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.DevicePath = ""
	return newBridge(log, cfg, opts)
}

func newBridge(log *slog.Logger, cfg Config, opts []Opt) *Bridge {
	b := &Bridge{
		log: log,
		cfg: cfg,

		open:   OpenDevice,
		loader: ModprobeLoader{},
		sleep:  sleepCtx,
		exit:   os.Exit,
	}
	for _, o := range opts {
		o(b)
	}

	b.kickBuf[0] = cfg.KeepAliveByte
	b.disarmBuf[0] = cfg.DisarmByte
	return b
}

// Init loads the configured kernel module, opens the watchdog device,
// and kicks it once.
//
// Failing to load the module is only logged.
// Failing to open the device is retried up to Config.MaxOpenAttempts times,
// pausing Config.RetryInterval between attempts;
// if every attempt fails, the process exits with [FatalExitCode].
//
// Init returns an error only if ctx is canceled during a pause between attempts.
// On a disabled bridge, or if the device is already open, Init opens nothing.
func (b *Bridge) Init(ctx context.Context) error {
	if !b.enabled {
		b.log.Warn("No watchdog configured, continuing without watchdog")
		b.Kick()
		return nil
	}

	if b.h.isOpen() {
		b.log.Info("Watchdog device already open; skipping initialization", "device", b.cfg.DevicePath)
		return nil
	}

	if b.cfg.Module != "" {
		if err := b.loader.Load(ctx, b.cfg.Module); err != nil {
			b.log.Warn("Unable to load watchdog driver module", "module", b.cfg.Module, "err", err)
		}
	}

	if err := b.openWithRetry(ctx); err != nil {
		return err
	}

	// Kick the watchdog immediately once.
	b.Kick()
	return nil
}

func (b *Bridge) openWithRetry(ctx context.Context) error {
	path := b.cfg.DevicePath

	var lastErr error
	for attempt := 1; attempt <= b.cfg.MaxOpenAttempts; attempt++ {
		dev, err := b.open(path)
		if err == nil {
			if !b.h.set(dev) {
				// Lost a race with another Init or with termination.
				if err := dev.Close(); err != nil {
					b.log.Warn("Could not close redundant watchdog device", "device", path, "err", err)
				}
				return nil
			}

			b.log.Info(
				"Opened watchdog device",
				"device", path,
				"attempt", attempt,
				"keepalive", glog.Byte(b.cfg.KeepAliveByte),
			)
			b.applyTimeout(dev)
			return nil
		}

		lastErr = err
		b.log.Warn(
			"Failed to open watchdog device; retrying...",
			"device", path,
			"attempt", attempt,
			"max_attempts", b.cfg.MaxOpenAttempts,
			"err", err,
		)

		if attempt == b.cfg.MaxOpenAttempts {
			break
		}

		if err := b.sleep(ctx, b.cfg.RetryInterval); err != nil {
			b.log.Info("Context canceled while opening watchdog device", "cause", err)
			return err
		}
	}

	e := OpenExhaustedError{
		DevicePath: path,
		Attempts:   b.cfg.MaxOpenAttempts,
		Last:       lastErr,
	}
	b.fatal("Failed to open hardware watchdog", "err", e)
	return e
}

func (b *Bridge) applyTimeout(dev Device) {
	if b.cfg.Timeout <= 0 {
		return
	}

	ts, ok := dev.(TimeoutSetter)
	if !ok {
		b.log.Warn("Watchdog device does not support setting a timeout", "device", b.cfg.DevicePath)
		return
	}

	got, err := ts.SetTimeout(b.cfg.Timeout)
	if err != nil {
		b.log.Warn("Failed to set watchdog timeout", "requested", b.cfg.Timeout, "err", err)
		return
	}

	b.log.Info("Set watchdog timeout", "requested", b.cfg.Timeout, "applied", got)
}

// Kick writes the keep-alive byte to the device, if one is open.
//
// A failed or short write is logged and otherwise ignored;
// the handle stays open for the next kick.
// Kick without an open device does nothing.
func (b *Bridge) Kick() {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()

	if b.h.dev == nil {
		return
	}

	if err := writeByte(b.h.dev, b.kickBuf[:]); err != nil {
		b.log.Warn("Failed to kick watchdog", "err", err)
	}
}

// Shutdown is the fatal escalation for a monitored subsystem
// that failed to respond in time.
// It logs and exits with [FatalExitCode] without touching the device,
// so the armed watchdog, no longer kicked, resets the machine.
func (b *Bridge) Shutdown() {
	b.fatal("Watchdog expired. Restart device.")
}

// Disarm writes the disarm byte and closes the device, if one is open.
// Unlike [*Bridge.Terminate], it does not exit,
// and a later Init may open the device again.
func (b *Bridge) Disarm() {
	b.h.mu.Lock()
	defer b.h.mu.Unlock()

	b.disarmLocked()
}

// disarmLocked runs the write-close-invalidate sequence.
// Both the write and the close are best effort.
// The caller must hold b.h.mu.
func (b *Bridge) disarmLocked() {
	if b.h.dev == nil {
		return
	}

	if err := writeByte(b.h.dev, b.disarmBuf[:]); err != nil {
		b.log.Warn("Failed to write to watchdog", "err", err)
	}

	if err := b.h.dev.Close(); err != nil {
		b.log.Warn("Could not close watchdog device", "err", err)
	}

	b.h.dev = nil

	b.log.Info("Watchdog stopped")
}

func (b *Bridge) fatal(msg string, args ...any) {
	b.log.Error(msg, args...)
	b.exit(FatalExitCode)
}

func writeByte(dev Device, buf []byte) error {
	n, err := dev.Write(buf)
	if err != nil {
		return err
	}
	if n != 1 {
		return ShortWriteError{Written: n}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}
