// Package monitoring provides the pipeline's diagnostic logging hook.
package monitoring

import "log"

// Logf is the package-level progress logger. It defaults to log.Printf but may
// be replaced by SetLogger. The test suite mutes it to keep output clean.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs a non-fatal data-quality warning. Warnings share the Logf sink
// but carry a fixed prefix so they can be grepped out of a long reduction log.
func Warnf(format string, v ...interface{}) {
	Logf("WARNING: "+format, v...)
}
