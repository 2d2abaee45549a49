package telemetry

import "errors"

// ErrNoTelemetry is returned when no driver in the session produced any
// usable telemetry. The message is surfaced verbatim to streaming clients.
var ErrNoTelemetry = errors.New("No valid telemetry data found for any driver")

// ErrCorruptTelemetry marks a non-monotonic time sequence in an upstream
// lap table. The affected driver is skipped and the build proceeds.
var ErrCorruptTelemetry = errors.New("corrupt telemetry: non-monotonic time sequence")

// ErrNoLaps marks a driver with no completable laps; the driver is skipped
// and the build proceeds.
var ErrNoLaps = errors.New("driver has no completable laps")
