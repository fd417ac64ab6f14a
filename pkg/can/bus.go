// Package can moves 8-byte frames between the controller and the motors.
package can

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout is returned by Recv when no frame arrives in time.
	ErrTimeout = errors.New("can: receive timeout")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("can: bus closed")

	// ErrUnsupported is returned when a transport is unavailable on this platform.
	ErrUnsupported = errors.New("can: transport not supported on this platform")
)

// Frame is one standard CAN frame with a full 8-byte payload.
type Frame struct {
	ID   uint32
	Data [8]byte
}

func (f Frame) String() string {
	return fmt.Sprintf("%03X#% X", f.ID, f.Data[:])
}

// Bus is a full-duplex CAN transport. Send and Recv may be called from
// different goroutines.
type Bus interface {
	Send(f Frame) error
	Recv(timeout time.Duration) (Frame, error)
	Close() error
}

// Open picks a transport from an interface name: "serial:/dev/ttyACM0" or
// "serial:/dev/ttyACM0@2000000" opens an SLCAN adapter, anything else is a
// SocketCAN interface such as "can0".
func Open(iface string) (Bus, error) {
	if port, baud, ok := parseSerial(iface); ok {
		b, err := OpenSerial(port, baud)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	b, err := OpenSocket(iface)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// queue is the receive side shared by the transports: a reader goroutine
// pushes frames, Recv pops them with a deadline.
type queue struct {
	frames chan Frame
	done   chan struct{}
}

func newQueue(size int) *queue {
	return &queue{frames: make(chan Frame, size), done: make(chan struct{})}
}

// push drops the frame if nobody is draining the queue.
func (q *queue) push(f Frame) bool {
	select {
	case q.frames <- f:
		return true
	default:
		return false
	}
}

func (q *queue) pop(timeout time.Duration) (Frame, error) {
	select {
	case f := <-q.frames:
		return f, nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-q.frames:
		return f, nil
	case <-q.done:
		return Frame{}, ErrClosed
	case <-timer.C:
		return Frame{}, ErrTimeout
	}
}

func (q *queue) closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
