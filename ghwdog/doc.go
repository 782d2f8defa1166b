// Package ghwdog bridges a supervising watchdog to the kernel watchdog device.
//
// A [*Bridge] owns the single open handle to the watchdog device node
// (typically /dev/watchdog).
// Once [*Bridge.Init] opens the device, the kernel resets the machine
// unless [*Bridge.Kick] is called within the driver's timeout.
// The supervising framework, usually a [github.com/gordian-engine/gwdog/gwatchdog.Watchdog],
// decides when to kick, and calls [*Bridge.Shutdown] when a monitored subsystem
// fails to respond in time.
//
// A planned termination must not leave the device armed.
// [*Bridge.HandleSignals] diverts SIGTERM to [*Bridge.Terminate],
// which writes the disarm byte, closes the device, and exits the process
// with a status derived from the signal number.
//
// When no hardware watchdog is expected, [NewNopBridge] returns a Bridge
// with the same methods that never touches a device.
package ghwdog
