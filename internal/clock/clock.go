// Package clock is the monotonic time source shared by the environment
// implementations. Readings count microseconds from an arbitrary
// process-local epoch, so they are only meaningful as deltas within one
// process.
package clock

import "time"

var processStart = time.Now()

// Micros returns a monotonic reading in microseconds. The epoch is the
// first use of the package within the process.
func Micros() uint64 {
	return uint64(time.Since(processStart).Microseconds())
}

// Sleep blocks the calling goroutine for the given number of microseconds.
// Non-positive durations return immediately.
func Sleep(micros int) {
	if micros <= 0 {
		return
	}
	time.Sleep(time.Duration(micros) * time.Microsecond)
}
