// Package errs collects the sentinel error kinds shared by the supervisor,
// the dimmer components, and the alarm machine. Callers use errors.Is
// against these values; wrap with fmt.Errorf("...: %w", errs.X) for detail.
package errs

import "errors"

var (
	// ErrInvalidArgument signals an out-of-range percentage or a missing
	// required value. Never retried.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIllegalTransition signals a state-machine guard violation by an
	// external caller via Fire. TryFire never returns this; it logs instead.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNotConnected signals a publish or subscribe attempted while the
	// MQTT session is down.
	ErrNotConnected = errors.New("not connected")

	// ErrTimeout signals a bounded publish or ping exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrParseFailure signals a malformed status payload; logged at warning
	// and discarded by the caller, never surfaced as a fatal condition.
	ErrParseFailure = errors.New("parse failure")

	// ErrTransientBroker signals a connection reset or broker rejection
	// absorbed by the supervisor and driven by backoff.
	ErrTransientBroker = errors.New("transient broker error")

	// ErrObjectDisposed signals use of a component after Dispose/Close.
	ErrObjectDisposed = errors.New("object disposed")
)
