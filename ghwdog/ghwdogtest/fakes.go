// Package ghwdogtest contains fakes for exercising a [*ghwdog.Bridge]
// without a watchdog device or a real process exit.
package ghwdogtest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gordian-engine/gwdog/ghwdog"
)

// ErrOpen is returned by [*Opener] for its configured failures.
var ErrOpen = errors.New("fake watchdog device unavailable")

// Device is an in-memory [ghwdog.Device] that records every byte written to it.
// Set the exported error fields before handing the device to a bridge.
type Device struct {
	// If set, returned from every Write or Close.
	WriteErr, CloseErr error

	// If set, Write accepts zero bytes without an error.
	ShortWrite bool

	// If set, returned from SetTimeout.
	TimeoutErr error

	mu      sync.Mutex
	written []byte
	closes  int
	timeout time.Duration

	// Writes after close are recorded here instead,
	// so tests can assert they never happen.
	writesAfterClose int
}

func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closes > 0 {
		d.writesAfterClose++
	}

	if d.WriteErr != nil {
		return 0, d.WriteErr
	}
	if d.ShortWrite {
		return 0, nil
	}

	d.written = append(d.written, p...)
	return len(p), nil
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closes++
	return d.CloseErr
}

// SetTimeout satisfies [ghwdog.TimeoutSetter].
// It records and reports the timeout rounded down to whole seconds.
func (d *Device) SetTimeout(t time.Duration) (time.Duration, error) {
	if d.TimeoutErr != nil {
		return 0, d.TimeoutErr
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.timeout = t.Truncate(time.Second)
	return d.timeout, nil
}

// Written returns a copy of all bytes written so far.
func (d *Device) Written() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]byte(nil), d.written...)
}

// Closes reports how many times Close was called.
func (d *Device) Closes() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.closes
}

// WritesAfterClose reports how many writes arrived after the first Close.
func (d *Device) WritesAfterClose() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.writesAfterClose
}

// Timeout reports the last timeout set through SetTimeout.
func (d *Device) Timeout() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.timeout
}

// Opener hands out a single [*Device] after failing a configured number of attempts.
type Opener struct {
	// Attempts that fail before one succeeds.
	// Negative means every attempt fails.
	FailFirst int

	// The device returned by a successful open.
	// If nil, a new Device is created on first success.
	Dev *Device

	mu    sync.Mutex
	paths []string
}

// Open satisfies [ghwdog.Opener].
func (o *Opener) Open(path string) (ghwdog.Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paths = append(o.paths, path)

	if o.FailFirst < 0 || len(o.paths) <= o.FailFirst {
		return nil, ErrOpen
	}

	if o.Dev == nil {
		o.Dev = new(Device)
	}
	return o.Dev, nil
}

// Device returns the device handed out by a successful open, or nil.
// Unlike reading the Dev field, it is safe while a bridge may be opening concurrently.
func (o *Opener) Device() *Device {
	o.mu.Lock()
	defer o.mu.Unlock()

	return o.Dev
}

// Attempts reports how many times Open was called.
func (o *Opener) Attempts() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.paths)
}

// Paths returns the path passed to each Open call, in order.
func (o *Opener) Paths() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]string(nil), o.paths...)
}

// Loader is a [ghwdog.ModuleLoader] that records the modules it was asked to load.
type Loader struct {
	// Returned from every Load call.
	Err error

	mu      sync.Mutex
	modules []string
}

func (l *Loader) Load(_ context.Context, module string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.modules = append(l.modules, module)
	return l.Err
}

// Modules returns every module passed to Load, in order.
func (l *Loader) Modules() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.modules...)
}

// Sleeper records pauses without sleeping.
type Sleeper struct {
	mu     sync.Mutex
	pauses []time.Duration
}

// Sleep satisfies the function signature of [ghwdog.WithSleep].
// It returns the context's cause if ctx is already canceled.
func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return context.Cause(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pauses = append(s.pauses, d)
	return nil
}

// Pauses returns every requested pause, in order.
func (s *Sleeper) Pauses() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]time.Duration(nil), s.pauses...)
}

// Exiter records exit codes instead of exiting.
// Each code is also sent on C, which is buffered.
type Exiter struct {
	C chan int

	mu    sync.Mutex
	codes []int
}

// NewExiter returns an Exiter whose channel buffers up to 8 exits.
func NewExiter() *Exiter {
	return &Exiter{C: make(chan int, 8)}
}

// Exit satisfies the function signature of [ghwdog.WithExit].
func (e *Exiter) Exit(code int) {
	e.mu.Lock()
	e.codes = append(e.codes, code)
	e.mu.Unlock()

	select {
	case e.C <- code:
	default:
	}
}

// Codes returns every recorded exit code, in order.
func (e *Exiter) Codes() []int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]int(nil), e.codes...)
}

// Options returns the bridge options wiring o, l, s, and e into a bridge.
// Any nil argument is left at the bridge's default.
func Options(o *Opener, l *Loader, s *Sleeper, e *Exiter) []ghwdog.Opt {
	var opts []ghwdog.Opt
	if o != nil {
		opts = append(opts, ghwdog.WithOpener(o.Open))
	}
	if l != nil {
		opts = append(opts, ghwdog.WithModuleLoader(l))
	}
	if s != nil {
		opts = append(opts, ghwdog.WithSleep(s.Sleep))
	}
	if e != nil {
		opts = append(opts, ghwdog.WithExit(e.Exit))
	}
	return opts
}
