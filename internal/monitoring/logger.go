// Package monitoring carries the process-wide diagnostic logger used by
// packages that have no logger of their own in scope.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. The binary points it at its
// structured logger on startup; it defaults to log.Printf so failures
// before that still surface.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. nil installs a no-op.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
