package log

import "sync/atomic"

var process atomic.Pointer[Logger]

// SetDefaultLogger replaces the process logger. Passing nil resets it.
func SetDefaultLogger(logger *Logger) {
	process.Store(logger)
}

// DefaultLogger returns the process logger, creating one from DefaultConfig
// on first use.
func DefaultLogger() *Logger {
	if l := process.Load(); l != nil {
		return l
	}
	fresh := Default()
	if process.CompareAndSwap(nil, fresh) {
		return fresh
	}
	return process.Load()
}
