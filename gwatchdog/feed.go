package gwatchdog

import (
	"context"
	"fmt"
	"time"
)

// Kicker is the hardware side of the watchdog,
// satisfied by [*github.com/gordian-engine/gwdog/ghwdog.Bridge].
type Kicker interface {
	// Kick defers the hardware reset.
	Kick()

	// Shutdown is the fatal escalation after a termination.
	// In production it does not return.
	Shutdown()
}

// Feed kicks k every interval for as long as the watchdog context is live.
//
// If the watchdog context is canceled by a termination,
// that is, a subsystem failing to respond or a call to [*Watchdog.Terminate],
// Feed stops kicking and calls k.Shutdown.
// If the root context passed to [NewWatchdog] ends first,
// Feed stops kicking without escalating;
// disarming the hardware is then up to the caller.
//
// The feeding goroutine is tracked by [*Watchdog.Wait].
func (w *Watchdog) Feed(k Kicker, interval time.Duration) {
	if interval <= 0 {
		panic(fmt.Errorf("(*Watchdog).Feed: interval must be positive (got %s)", interval))
	}

	w.wg.Add(1)
	go w.feed(k, interval)
}

func (w *Watchdog) feed(k Kicker, interval time.Duration) {
	defer w.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.wCtx.Done():
			cause := context.Cause(w.wCtx)
			if !IsTermination(w.wCtx) {
				w.log.Info("Stopping hardware feed due to context cancellation", "cause", cause)
				return
			}

			w.log.Error("Watchdog terminated; escalating to hardware shutdown", "cause", cause)
			k.Shutdown()
			return

		case <-ticker.C:
			// The tick and the cancellation may have been ready together.
			if w.wCtx.Err() != nil {
				continue
			}
			k.Kick()
		}
	}
}
