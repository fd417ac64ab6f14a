//go:build !linux

// Package rt asks the OS for real-time scheduling of the calling thread.
package rt

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned on platforms without a real-time scheduler hook.
var ErrUnsupported = errors.New("rt: real-time priority not supported on this platform")

// Elevate locks the calling goroutine to its OS thread and reports that
// no priority change was made.
func Elevate(priority int) error {
	if priority <= 0 {
		return nil
	}
	runtime.LockOSThread()
	return ErrUnsupported
}
