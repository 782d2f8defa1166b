package ghwdog

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// TerminationSignal is the graceful-termination signal
// handled by [*Bridge.HandleSignals].
var TerminationSignal os.Signal = syscall.SIGTERM

// HandleSignals diverts [TerminationSignal] away from its default action
// and runs [*Bridge.Terminate] when it is delivered.
// The signal is observed only here for as long as the handler is registered.
//
// The handler stops when ctx is canceled or the returned stop function is called.
// Stopping restores the default action; stop is safe to call more than once.
func (b *Bridge) HandleSignals(ctx context.Context) (stop func()) {
	// Buffered so a signal arriving before the goroutine is scheduled is not dropped.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, TerminationSignal)

	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer signal.Stop(sigCh)

		select {
		case <-ctx.Done():
		case <-quit:
		case sig := <-sigCh:
			b.Terminate(sig)
		}
	}()

	return sync.OnceFunc(func() {
		close(quit)
		<-done
	})
}

// Terminate is the termination handler.
// It writes the disarm byte, closes the device,
// invalidates the handle so no later kick can write,
// and exits with the negated signal number.
// Write and close failures are logged; the exit happens regardless,
// and happens on a disabled bridge too.
//
// Only the first call has any effect.
// The handle lock is held through the exit,
// so a concurrent kick either completes before the disarm byte or never writes.
func (b *Bridge) Terminate(sig os.Signal) {
	b.terminateOnce.Do(func() {
		b.h.mu.Lock()
		defer b.h.mu.Unlock()

		b.disarmLocked()
		b.h.closed = true

		code := -signalNumber(sig)
		b.log.Info("Exiting on termination signal", "signal", sig, "status", code)
		b.exit(code)
	})
}

func signalNumber(sig os.Signal) int {
	if s, ok := sig.(syscall.Signal); ok {
		return int(s)
	}

	// Only os.Interrupt and os.Kill are defined portably,
	// and both are syscall.Signal values on every platform Go supports.
	return 1
}
