//go:build !linux

package can

import (
	"fmt"
	"time"
)

// SocketBus is only available on Linux.
type SocketBus struct{}

// OpenSocket always fails off Linux.
func OpenSocket(iface string) (*SocketBus, error) {
	return nil, fmt.Errorf("%w: socketcan %s", ErrUnsupported, iface)
}

func (b *SocketBus) Send(Frame) error                  { return ErrUnsupported }
func (b *SocketBus) Recv(time.Duration) (Frame, error) { return Frame{}, ErrUnsupported }
func (b *SocketBus) Close() error                      { return nil }
