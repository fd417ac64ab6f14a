//go:build linux

package can

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-daq/canbus"

	"github.com/teslashibe/go-arx5/internal/log"
)

// SocketBus talks to a Linux SocketCAN interface. Like most SocketCAN
// users it keeps separate transmit and receive sockets.
type SocketBus struct {
	iface string
	tx    *canbus.Socket
	rx    *canbus.Socket
	q     *queue

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// OpenSocket binds to iface (for example "can0").
func OpenSocket(iface string) (*SocketBus, error) {
	tx, err := canbus.New()
	if err != nil {
		return nil, fmt.Errorf("can: open tx socket: %w", err)
	}
	if err := tx.Bind(iface); err != nil {
		tx.Close()
		return nil, fmt.Errorf("can: bind tx %s: %w", iface, err)
	}
	rx, err := canbus.New()
	if err != nil {
		tx.Close()
		return nil, fmt.Errorf("can: open rx socket: %w", err)
	}
	if err := rx.Bind(iface); err != nil {
		tx.Close()
		rx.Close()
		return nil, fmt.Errorf("can: bind rx %s: %w", iface, err)
	}

	b := &SocketBus{iface: iface, tx: tx, rx: rx, q: newQueue(256)}
	b.wg.Add(1)
	go b.readLoop()
	log.Info("socketcan bus open", "iface", iface)
	return b, nil
}

func (b *SocketBus) readLoop() {
	defer b.wg.Done()
	for {
		msg, err := b.rx.Recv()
		if err != nil {
			if b.q.closed() {
				return
			}
			log.Warn("socketcan receive failed", "iface", b.iface, "err", err)
			time.Sleep(time.Millisecond)
			continue
		}
		if msg.Kind != canbus.SFF && msg.Kind != canbus.EFF {
			continue
		}
		var f Frame
		f.ID = msg.ID
		copy(f.Data[:], msg.Data)
		if !b.q.push(f) {
			log.Debug("socketcan receive queue full", "id", msg.ID)
		}
	}
}

// Send writes one standard frame.
func (b *SocketBus) Send(f Frame) error {
	if b.q.closed() {
		return ErrClosed
	}
	_, err := b.tx.Send(canbus.Frame{ID: f.ID, Data: f.Data[:], Kind: canbus.SFF})
	if err != nil {
		return fmt.Errorf("can: send %03X: %w", f.ID, err)
	}
	return nil
}

// Recv waits up to timeout for the next frame.
func (b *SocketBus) Recv(timeout time.Duration) (Frame, error) {
	return b.q.pop(timeout)
}

// Close shuts both sockets and waits for the reader.
func (b *SocketBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.q.done)
		if e := b.tx.Close(); e != nil {
			err = e
		}
		if e := b.rx.Close(); e != nil && err == nil {
			err = e
		}
		b.wg.Wait()
	})
	return err
}
