package ghwdog_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/gordian-engine/gwdog/ghwdog"
	"github.com/gordian-engine/gwdog/ghwdog/ghwdogtest"
	"github.com/gordian-engine/gwdog/internal/gtest"
	"github.com/stretchr/testify/require"
)

// fixture wires a bridge to fakes for every external effect.
type fixture struct {
	Opener  *ghwdogtest.Opener
	Loader  *ghwdogtest.Loader
	Sleeper *ghwdogtest.Sleeper
	Exiter  *ghwdogtest.Exiter

	Cfg ghwdog.Config
}

func newFixture() *fixture {
	cfg := ghwdog.DefaultConfig()
	cfg.DevicePath = "/dev/watchdog0"

	return &fixture{
		Opener:  new(ghwdogtest.Opener),
		Loader:  new(ghwdogtest.Loader),
		Sleeper: new(ghwdogtest.Sleeper),
		Exiter:  ghwdogtest.NewExiter(),

		Cfg: cfg,
	}
}

func (f *fixture) Bridge(t *testing.T, log *slog.Logger) *ghwdog.Bridge {
	t.Helper()

	if log == nil {
		log = gtest.NewLogger(t)
	}

	b, err := ghwdog.New(log, f.Cfg, ghwdogtest.Options(f.Opener, f.Loader, f.Sleeper, f.Exiter)...)
	require.NoError(t, err)
	return b
}

func TestBridge_scenario(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)

	require.NoError(t, b.Init(context.Background()))

	require.Equal(t, []string{"/dev/watchdog0"}, f.Opener.Paths())
	require.Empty(t, f.Loader.Modules())
	require.Equal(t, []byte("k"), f.Opener.Dev.Written())

	b.Terminate(syscall.SIGTERM)

	require.Equal(t, []byte("kV"), f.Opener.Dev.Written())
	require.Equal(t, 1, f.Opener.Dev.Closes())
	require.Equal(t, []int{-15}, f.Exiter.Codes())
}

func TestBridge_Init_firstAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)

	require.NoError(t, b.Init(context.Background()))

	require.Equal(t, 1, f.Opener.Attempts())
	require.Empty(t, f.Sleeper.Pauses())
	require.Empty(t, f.Exiter.Codes())

	// Exactly one keep-alive byte from the immediate post-open kick.
	require.Equal(t, []byte{ghwdog.DefaultKeepAliveByte}, f.Opener.Dev.Written())
	require.Zero(t, f.Opener.Dev.Closes())
}

func TestBridge_Init_retriesUntilOpen(t *testing.T) {
	for _, n := range []int{2, 5, ghwdog.DefaultMaxOpenAttempts} {
		t.Run(fmt.Sprintf("open on attempt %d", n), func(t *testing.T) {
			t.Parallel()

			f := newFixture()
			f.Opener.FailFirst = n - 1
			f.Cfg.RetryInterval = 250 * time.Millisecond
			b := f.Bridge(t, nil)

			require.NoError(t, b.Init(context.Background()))

			require.Equal(t, n, f.Opener.Attempts())

			// The only delays are the n-1 pauses between attempts.
			pauses := f.Sleeper.Pauses()
			require.Len(t, pauses, n-1)
			for _, p := range pauses {
				require.Equal(t, 250*time.Millisecond, p)
			}

			require.Equal(t, []byte("k"), f.Opener.Dev.Written())
			require.Empty(t, f.Exiter.Codes())
		})
	}
}

func TestBridge_Init_exhaustedIsFatal(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Opener.FailFirst = -1

	var buf bytes.Buffer
	b := f.Bridge(t, slog.New(slog.NewJSONHandler(&buf, nil)))

	err := b.Init(context.Background())

	var exhausted ghwdog.OpenExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, "/dev/watchdog0", exhausted.DevicePath)
	require.Equal(t, ghwdog.DefaultMaxOpenAttempts, exhausted.Attempts)
	require.ErrorIs(t, err, ghwdogtest.ErrOpen)

	require.Equal(t, ghwdog.DefaultMaxOpenAttempts, f.Opener.Attempts())
	require.Len(t, f.Sleeper.Pauses(), ghwdog.DefaultMaxOpenAttempts-1)
	require.Equal(t, []int{ghwdog.FatalExitCode}, f.Exiter.Codes())

	// No device was ever handed out, so nothing is open.
	require.Nil(t, f.Opener.Dev)

	require.Contains(t, buf.String(), `"level":"ERROR","msg":"Failed to open hardware watchdog"`)
	require.Contains(t, buf.String(), "Failed to open watchdog device; retrying...")
}

func TestBridge_Init_customAttempts(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Opener.FailFirst = -1
	f.Cfg.MaxOpenAttempts = 3
	b := f.Bridge(t, nil)

	require.Error(t, b.Init(context.Background()))
	require.Equal(t, 3, f.Opener.Attempts())
	require.Equal(t, []int{ghwdog.FatalExitCode}, f.Exiter.Codes())
}

func TestBridge_Init_contextCanceledDuringRetry(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Opener.FailFirst = -1
	b := f.Bridge(t, nil)

	ctx, cancel := context.WithCancelCause(context.Background())
	cause := errors.New("shutting down")
	cancel(cause)

	err := b.Init(ctx)
	require.ErrorIs(t, err, cause)

	// Only the first attempt ran, and canceling is not fatal.
	require.Equal(t, 1, f.Opener.Attempts())
	require.Empty(t, f.Exiter.Codes())
}

func TestBridge_Init_realSleepBetweenAttempts(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Opener.FailFirst = 2
	f.Cfg.RetryInterval = 10 * time.Millisecond

	b, err := ghwdog.NewBridge(
		gtest.NewLogger(t), f.Cfg,
		// Default sleep, but fake everything else.
		ghwdogtest.Options(f.Opener, f.Loader, nil, f.Exiter)...,
	)
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, b.Init(context.Background()))
	require.GreaterOrEqual(t, time.Since(start), 2*f.Cfg.RetryInterval)
	require.Equal(t, 3, f.Opener.Attempts())
}

func TestBridge_Init_loadsModule(t *testing.T) {
	t.Parallel()

	t.Run("success", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		f.Cfg.Module = "softdog"
		b := f.Bridge(t, nil)

		require.NoError(t, b.Init(context.Background()))
		require.Equal(t, []string{"softdog"}, f.Loader.Modules())
		require.Equal(t, []byte("k"), f.Opener.Dev.Written())
	})

	t.Run("failure is only a warning", func(t *testing.T) {
		t.Parallel()

		f := newFixture()
		f.Cfg.Module = "softdog"
		f.Loader.Err = errors.New("modprobe: FATAL: Module softdog not found")

		var buf bytes.Buffer
		b := f.Bridge(t, slog.New(slog.NewJSONHandler(&buf, nil)))

		require.NoError(t, b.Init(context.Background()))
		require.Equal(t, []byte("k"), f.Opener.Dev.Written())
		require.Empty(t, f.Exiter.Codes())

		require.Contains(t, buf.String(), `"level":"WARN","msg":"Unable to load watchdog driver module"`)
	})
}

func TestBridge_Init_alreadyOpen(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)

	require.NoError(t, b.Init(context.Background()))
	require.NoError(t, b.Init(context.Background()))

	// No second handle, and no second immediate kick.
	require.Equal(t, 1, f.Opener.Attempts())
	require.Equal(t, []byte("k"), f.Opener.Dev.Written())
}

func TestBridge_Init_setsTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Cfg.Timeout = 30*time.Second + 400*time.Millisecond
	b := f.Bridge(t, nil)

	require.NoError(t, b.Init(context.Background()))
	require.Equal(t, 30*time.Second, f.Opener.Dev.Timeout())
}

func TestBridge_Init_timeoutFailureIsOnlyAWarning(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Cfg.Timeout = 10 * time.Second
	f.Opener.Dev = &ghwdogtest.Device{TimeoutErr: errors.New("inappropriate ioctl for device")}
	b := f.Bridge(t, nil)

	require.NoError(t, b.Init(context.Background()))
	require.Equal(t, []byte("k"), f.Opener.Dev.Written())
	require.Empty(t, f.Exiter.Codes())
}

func TestBridge_Kick(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)

	require.NoError(t, b.Init(context.Background()))

	b.Kick()
	b.Kick()

	require.Equal(t, []byte("kkk"), f.Opener.Dev.Written())
}

func TestBridge_Kick_customBytes(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Cfg.KeepAliveByte = 0
	f.Cfg.DisarmByte = 'X'
	b := f.Bridge(t, nil)

	require.NoError(t, b.Init(context.Background()))
	b.Kick()
	b.Terminate(syscall.SIGTERM)

	require.Equal(t, []byte{0, 0, 'X'}, f.Opener.Dev.Written())
}

func TestBridge_Kick_withoutHandle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)

	// Never initialized: nothing to write to, and nothing observable happens.
	require.NotPanics(t, b.Kick)

	require.Zero(t, f.Opener.Attempts())
	require.Nil(t, f.Opener.Dev)
	require.Empty(t, f.Exiter.Codes())
}

func TestBridge_Kick_shortWriteIsOnlyAWarning(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Opener.Dev = &ghwdogtest.Device{ShortWrite: true}

	var buf bytes.Buffer
	b := f.Bridge(t, slog.New(slog.NewJSONHandler(&buf, nil)))

	// Init's own kick is short too; neither is fatal.
	require.NoError(t, b.Init(context.Background()))
	b.Kick()

	require.Empty(t, f.Exiter.Codes())
	require.Zero(t, f.Opener.Dev.Closes())
	require.Contains(t, buf.String(), `"level":"WARN","msg":"Failed to kick watchdog"`)
	require.Contains(t, buf.String(), "wrote 0 of 1 byte(s)")
}

func TestBridge_Kick_writeErrorKeepsHandle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Opener.Dev = &ghwdogtest.Device{WriteErr: syscall.EIO}
	b := f.Bridge(t, nil)

	require.NoError(t, b.Init(context.Background()))
	b.Kick()

	require.Zero(t, f.Opener.Dev.Closes())
	require.Equal(t, 1, f.Opener.Attempts())
}

func TestBridge_Shutdown(t *testing.T) {
	t.Parallel()

	f := newFixture()

	var buf bytes.Buffer
	b := f.Bridge(t, slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, b.Init(context.Background()))

	b.Shutdown()

	require.Equal(t, []int{ghwdog.FatalExitCode}, f.Exiter.Codes())
	require.Contains(t, buf.String(), `"level":"ERROR","msg":"Watchdog expired. Restart device."`)

	// The device is left armed and untouched.
	require.Equal(t, []byte("k"), f.Opener.Dev.Written())
	require.Zero(t, f.Opener.Dev.Closes())
}

func TestBridge_Terminate(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)

	require.NoError(t, b.Init(context.Background()))

	b.Terminate(syscall.SIGTERM)

	require.Equal(t, []byte("kV"), f.Opener.Dev.Written())
	require.Equal(t, 1, f.Opener.Dev.Closes())
	require.Equal(t, []int{-int(syscall.SIGTERM)}, f.Exiter.Codes())

	// The handle is invalidated: later kicks do not write.
	b.Kick()
	require.Equal(t, []byte("kV"), f.Opener.Dev.Written())
	require.Zero(t, f.Opener.Dev.WritesAfterClose())

	// The handler only runs once.
	b.Terminate(syscall.SIGTERM)
	require.Equal(t, 1, f.Opener.Dev.Closes())
	require.Len(t, f.Exiter.Codes(), 1)
}

func TestBridge_Terminate_withoutHandle(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)

	b.Terminate(syscall.SIGTERM)

	require.Zero(t, f.Opener.Attempts())
	require.Equal(t, []int{-15}, f.Exiter.Codes())
}

func TestBridge_Terminate_failuresAreOnlyWarnings(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Opener.Dev = new(ghwdogtest.Device)

	var buf bytes.Buffer
	b := f.Bridge(t, slog.New(slog.NewJSONHandler(&buf, nil)))
	require.NoError(t, b.Init(context.Background()))

	f.Opener.Dev.WriteErr = syscall.EIO
	f.Opener.Dev.CloseErr = syscall.EBADF

	b.Terminate(syscall.SIGTERM)

	require.Equal(t, []int{-15}, f.Exiter.Codes())
	require.Equal(t, 1, f.Opener.Dev.Closes())
	require.Equal(t, []byte("k"), f.Opener.Dev.Written())
	require.Contains(t, buf.String(), `"level":"WARN","msg":"Failed to write to watchdog"`)
	require.Contains(t, buf.String(), `"level":"WARN","msg":"Could not close watchdog device"`)

	// Still invalidated despite the failed close.
	b.Kick()
	require.Zero(t, f.Opener.Dev.WritesAfterClose())
}

func TestBridge_Terminate_thenInit(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)

	b.Terminate(syscall.SIGTERM)

	// Only reachable when exit is faked,
	// but a terminated bridge must never hold an open device.
	require.NoError(t, b.Init(context.Background()))

	require.Equal(t, 1, f.Opener.Dev.Closes())
	require.Empty(t, f.Opener.Dev.Written())

	b.Kick()
	require.Empty(t, f.Opener.Dev.Written())
}

func TestBridge_Terminate_concurrentKicks(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)
	require.NoError(t, b.Init(context.Background()))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					b.Kick()
				}
			}
		}()
	}

	gtest.Sleep(gtest.ScaleMs(5))
	b.Terminate(syscall.SIGTERM)
	close(stop)
	wg.Wait()

	w := f.Opener.Dev.Written()
	require.Equal(t, byte('V'), w[len(w)-1])
	require.NotContains(t, string(w[:len(w)-1]), "V")
	require.Zero(t, f.Opener.Dev.WritesAfterClose())
}

func TestBridge_Disarm(t *testing.T) {
	t.Parallel()

	f := newFixture()
	b := f.Bridge(t, nil)
	require.NoError(t, b.Init(context.Background()))

	b.Disarm()

	require.Equal(t, []byte("kV"), f.Opener.Dev.Written())
	require.Equal(t, 1, f.Opener.Dev.Closes())
	require.Empty(t, f.Exiter.Codes())

	// Disarming again with no handle does nothing.
	b.Disarm()
	require.Equal(t, 1, f.Opener.Dev.Closes())

	// Unlike termination, the device can be reopened.
	require.NoError(t, b.Init(context.Background()))
	require.Equal(t, 2, f.Opener.Attempts())
	require.Equal(t, []byte("kVk"), f.Opener.Dev.Written())
}

func TestNopBridge(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.Cfg.Enabled = false
	f.Cfg.Module = "softdog"

	var buf bytes.Buffer
	b := f.Bridge(t, slog.New(slog.NewJSONHandler(&buf, nil)))

	require.NoError(t, b.Init(context.Background()))
	b.Kick()
	b.Disarm()

	require.Zero(t, f.Opener.Attempts())
	require.Empty(t, f.Loader.Modules())
	require.Empty(t, f.Sleeper.Pauses())
	require.Empty(t, f.Exiter.Codes())
	require.Contains(t, buf.String(), `"level":"WARN","msg":"No watchdog configured, continuing without watchdog"`)

	// Shutdown is still fatal.
	b.Shutdown()
	require.Equal(t, []int{ghwdog.FatalExitCode}, f.Exiter.Codes())
}

func TestNopBridge_Terminate(t *testing.T) {
	t.Parallel()

	e := ghwdogtest.NewExiter()
	b := ghwdog.NewNopBridge(gtest.NewLogger(t), ghwdog.WithExit(e.Exit))

	b.Terminate(syscall.SIGTERM)

	// Same exit status as with a device.
	require.Equal(t, []int{-15}, e.Codes())
}

func TestNewBridge_invalidConfig(t *testing.T) {
	t.Parallel()

	cfg := ghwdog.DefaultConfig()
	cfg.MaxOpenAttempts = 0

	_, err := ghwdog.NewBridge(gtest.NewLogger(t), cfg)
	require.ErrorContains(t, err, "MaxOpenAttempts must be positive")

	// A disabled config skips validation entirely.
	cfg.Enabled = false
	b, err := ghwdog.New(gtest.NewLogger(t), cfg)
	require.NoError(t, err)
	require.NotNil(t, b)
}
