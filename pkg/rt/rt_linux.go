//go:build linux

// Package rt asks the OS for real-time scheduling of the calling thread.
package rt

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// schedFIFO is SCHED_FIFO from <sched.h>.
const schedFIFO = 1

// Elevate locks the calling goroutine to its OS thread and requests
// SCHED_FIFO at priority (1-99). If that is refused it falls back to the
// highest nice level the process may use. The caller keeps the thread
// locked for its lifetime.
func Elevate(priority int) error {
	if priority <= 0 {
		return nil
	}
	if priority > 99 {
		priority = 99
	}
	runtime.LockOSThread()

	attr := unix.SchedAttr{
		Size:     uint32(unsafe.Sizeof(unix.SchedAttr{})),
		Policy:   schedFIFO,
		Priority: uint32(priority),
	}
	fifoErr := unix.SchedSetAttr(0, &attr, 0)
	if fifoErr == nil {
		return nil
	}
	// Thread-level nice: tid 0 with PRIO_PROCESS applies to the caller on Linux.
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -10); err != nil {
		return fmt.Errorf("rt: SCHED_FIFO %d: %v; nice -10: %w", priority, fifoErr, err)
	}
	return fmt.Errorf("rt: SCHED_FIFO %d refused, running at nice -10: %w", priority, fifoErr)
}
