package can

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/teslashibe/go-arx5/internal/log"
)

// DefaultSerialBaud is used when the interface string carries no baud rate.
const DefaultSerialBaud = 2000000

// SerialBus drives a USB-CAN adapter speaking the SLCAN (Lawicel) ASCII
// protocol, with the CAN bitrate fixed at 1 Mbit/s.
type SerialBus struct {
	name string
	port serial.Port
	q    *queue

	writeMu   sync.Mutex
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func parseSerial(iface string) (port string, baud int, ok bool) {
	rest, found := strings.CutPrefix(iface, "serial:")
	if !found {
		return "", 0, false
	}
	baud = DefaultSerialBaud
	if p, b, has := strings.Cut(rest, "@"); has {
		if n, err := strconv.Atoi(b); err == nil && n > 0 {
			baud = n
		}
		rest = p
	}
	return rest, baud, true
}

// OpenSerial opens an SLCAN adapter and starts the channel at 1 Mbit/s.
func OpenSerial(name string, baud int) (*SerialBus, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("can: open serial %s: %w", name, err)
	}
	if err := port.SetReadTimeout(50 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("can: serial read timeout: %w", err)
	}
	// Close any half-open channel, select 1 Mbit/s, open.
	for _, cmd := range []string{"C\r", "S8\r", "O\r"} {
		if _, err := port.Write([]byte(cmd)); err != nil {
			port.Close()
			return nil, fmt.Errorf("can: slcan init %q: %w", strings.TrimSpace(cmd), err)
		}
	}

	b := &SerialBus{name: name, port: port, q: newQueue(256)}
	b.wg.Add(1)
	go b.readLoop()
	log.Info("slcan bus open", "port", name, "baud", baud)
	return b, nil
}

func (b *SerialBus) readLoop() {
	defer b.wg.Done()
	buf := make([]byte, 512)
	var pending []byte
	for {
		n, err := b.port.Read(buf)
		if b.q.closed() {
			return
		}
		if err != nil {
			log.Warn("slcan read failed", "port", b.name, "err", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}
		pending = append(pending, buf[:n]...)
		for {
			i := bytes.IndexAny(pending, "\r\a")
			if i < 0 {
				break
			}
			line := pending[:i]
			pending = pending[i+1:]
			if f, ok := decodeSLCAN(line); ok {
				b.q.push(f)
			}
		}
	}
}

// encodeSLCAN renders f as "tIIILDDDDDDDDDDDDDDDD\r".
func encodeSLCAN(f Frame) []byte {
	out := fmt.Appendf(make([]byte, 0, 22), "t%03X8", f.ID&0x7ff)
	out = append(out, strings.ToUpper(hex.EncodeToString(f.Data[:]))...)
	return append(out, '\r')
}

// decodeSLCAN parses one received line without its terminator. Acks and
// anything that is not a standard data frame are skipped.
func decodeSLCAN(line []byte) (Frame, bool) {
	line = bytes.TrimLeft(line, "zZ")
	if len(line) < 5 || line[0] != 't' {
		return Frame{}, false
	}
	id, err := strconv.ParseUint(string(line[1:4]), 16, 32)
	if err != nil {
		return Frame{}, false
	}
	n := int(line[4] - '0')
	if n < 0 || n > 8 || len(line) < 5+2*n {
		return Frame{}, false
	}
	var f Frame
	f.ID = uint32(id)
	if _, err := hex.Decode(f.Data[:n], line[5:5+2*n]); err != nil {
		return Frame{}, false
	}
	return f, true
}

// Send writes one frame to the adapter.
func (b *SerialBus) Send(f Frame) error {
	if b.q.closed() {
		return ErrClosed
	}
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if _, err := b.port.Write(encodeSLCAN(f)); err != nil {
		return fmt.Errorf("can: slcan send %03X: %w", f.ID, err)
	}
	return nil
}

// Recv waits up to timeout for the next frame.
func (b *SerialBus) Recv(timeout time.Duration) (Frame, error) {
	return b.q.pop(timeout)
}

// Close closes the channel and the serial port.
func (b *SerialBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.q.done)
		b.writeMu.Lock()
		b.port.Write([]byte("C\r"))
		b.writeMu.Unlock()
		err = b.port.Close()
		b.wg.Wait()
	})
	return err
}
