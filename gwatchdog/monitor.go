package gwatchdog

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

type MonitorConfig struct {
	// The name of the subsystem being monitored, for reporting purposes.
	Name string

	// The watchdog will poll the subsystem every Interval + [-Jitter, +Jitter) duration.
	// The jitter range is uniformly distributed.
	Interval, Jitter time.Duration

	// If the subsystem does not both accept the signal
	// and close its Alive response channel within ResponseTimeout,
	// the watchdog sends a termination signal to the entire system.
	ResponseTimeout time.Duration
}

func (c MonitorConfig) validate() error {
	var err error
	if c.Name == "" {
		err = errors.Join(err, errors.New("MonitorConfig.Name must not be empty"))
	}

	if c.Interval <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.Interval must be positive"))
	}

	if c.Jitter <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.Jitter must be positive"))
	} else if c.Jitter > c.Interval {
		err = errors.Join(err, errors.New("MonitorConfig.Jitter must not exceed MonitorConfig.Interval"))
	}

	if c.ResponseTimeout <= 0 {
		err = errors.Join(err, errors.New("MonitorConfig.ResponseTimeout must be positive"))
	}

	return err
}

// monitor runs in its own goroutine to poll a subsystem on an interval
// specified by cfg.
func monitor(
	ctx context.Context,
	log *slog.Logger,
	cfg MonitorConfig,
	wg *sync.WaitGroup,
	sigCh chan<- Signal,
	cancel context.CancelCauseFunc,
) {
	defer wg.Done()

	// Every monitor gets its own RNG, seeded by the global RNG,
	// so that polling does not contend on a shared source.
	rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))

	for {
		j := rng.Int64N(int64(2*cfg.Jitter)) - int64(cfg.Jitter)

		timer := time.NewTimer(cfg.Interval + time.Duration(j))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if !checkSubsys(ctx, cfg.ResponseTimeout, sigCh) {
				if ctx.Err() != nil {
					return
				}

				log.Warn("Subsystem failed to respond to watchdog signal", "timeout", cfg.ResponseTimeout)
				cancel(FailureToRespondError{SubsystemName: cfg.Name})
				return
			}
		}
	}
}

// checkSubsys sends one signal on sigCh and waits for its Alive channel to close.
// It reports whether the subsystem did both within responseTimeout.
// It also reports false if ctx is canceled first;
// the caller distinguishes the two by checking ctx.
func checkSubsys(
	ctx context.Context,
	responseTimeout time.Duration,
	sigCh chan<- Signal,
) (ok bool) {
	alive := make(chan struct{})
	sig := Signal{
		Alive: alive,
	}
	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()

	// First the signal needs to be received within the timeout.
	select {
	case <-ctx.Done():
		return false
	case sigCh <- sig:
		// Okay, keep going.
	case <-timer.C:
		return false
	}

	select {
	case <-ctx.Done():
		return false
	case <-alive:
		return true
	case <-timer.C:
		// If both were ready, the runtime may have picked the timer,
		// so check alive one last time before failing.
		select {
		case <-alive:
			return true
		default:
			return false
		}
	}
}
