package proto

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/hmaruyama/godxl/pkg/dxl"
)

// ErrPortClosed is returned for transactions against a closed port.
var ErrPortClosed = errors.New("port is closed")

// ErrNoResponse is returned when a device sends nothing before the deadline.
var ErrNoResponse = errors.New("no response")

// Port is a dxl.Transport over a local serial device. A mutex serializes
// transactions: the bus is half-duplex and exclusively owned, so no two
// exchanges may overlap in time.
type Port struct {
	name    string
	timeout time.Duration

	mu   sync.Mutex
	port serial.Port
	baud int
	open bool
}

// PortConfig configures a serial port transport.
type PortConfig struct {
	// Name is the device path, e.g. "/dev/ttyUSB0".
	Name string

	// BaudRate used when opening. Default 57600.
	BaudRate int

	// Timeout bounds each transaction's receive phase. Default 1s.
	Timeout time.Duration
}

// NewPort creates the transport. The device is not touched until Open.
func NewPort(cfg PortConfig) *Port {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 57600
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	return &Port{
		name:    cfg.Name,
		timeout: cfg.Timeout,
		baud:    cfg.BaudRate,
	}
}

// Open opens the serial device.
func (p *Port) Open() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return nil
	}
	port, err := serial.Open(p.name, &serial.Mode{BaudRate: p.baud})
	if err != nil {
		return fmt.Errorf("open %s: %w", p.name, err)
	}
	p.port = port
	p.open = true
	return nil
}

// Close closes the serial device. Closing a closed port is a no-op.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return nil
	}
	p.open = false
	return p.port.Close()
}

// SetBaudRate reconfigures the host side of the link.
func (p *Port) SetBaudRate(baud int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.baud = baud
	if !p.open {
		return nil
	}
	if err := p.port.SetMode(&serial.Mode{BaudRate: baud}); err != nil {
		return fmt.Errorf("set baud rate %d: %w", baud, err)
	}
	return nil
}

// Ping sends a ping instruction and returns the reported model number.
func (p *Port) Ping(ctx context.Context, id int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return 0, ErrPortClosed
	}
	if err := p.send(pingPacket(byte(id))); err != nil {
		return 0, &dxl.CommError{Op: "ping", Err: err}
	}
	pkt, err := p.receiveStatus(ctx, 3)
	if err != nil {
		return 0, &dxl.CommError{Op: "ping", Err: err}
	}
	if pkt.Err != 0 {
		return 0, &dxl.DeviceError{ID: id, Code: pkt.Err}
	}
	if len(pkt.Params) < 2 {
		return 0, &dxl.CommError{Op: "ping", Err: fmt.Errorf("short ping reply: %d bytes", len(pkt.Params))}
	}
	return int(pkt.Params[0]) | int(pkt.Params[1])<<8, nil
}

// ReadRegister reads one fixed-width register, returning the raw unsigned
// little-endian value.
func (p *Port) ReadRegister(ctx context.Context, id int, addr uint16, width int) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return 0, ErrPortClosed
	}
	if err := p.send(readPacket(byte(id), addr, uint16(width))); err != nil {
		return 0, &dxl.CommError{Op: "read", Err: err}
	}
	pkt, err := p.receiveStatus(ctx, width)
	if err != nil {
		return 0, &dxl.CommError{Op: "read", Err: err}
	}
	if pkt.Err != 0 {
		return 0, &dxl.DeviceError{ID: id, Code: pkt.Err}
	}
	if len(pkt.Params) < width {
		return 0, &dxl.CommError{Op: "read", Err: fmt.Errorf("short read reply: %d of %d bytes", len(pkt.Params), width)}
	}
	var raw uint32
	for i := range width {
		raw |= uint32(pkt.Params[i]) << (8 * i)
	}
	return raw, nil
}

// WriteRegister writes one fixed-width register value.
func (p *Port) WriteRegister(ctx context.Context, id int, addr uint16, width int, value uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return ErrPortClosed
	}
	data := make([]byte, width)
	for i := range data {
		data[i] = byte(value >> (8 * i))
	}
	if err := p.send(writePacket(byte(id), addr, data)); err != nil {
		return &dxl.CommError{Op: "write", Err: err}
	}
	pkt, err := p.receiveStatus(ctx, 0)
	if err != nil {
		return &dxl.CommError{Op: "write", Err: err}
	}
	if pkt.Err != 0 {
		return &dxl.DeviceError{ID: id, Code: pkt.Err}
	}
	return nil
}

// SyncWriter creates a batch write handle for one register.
func (p *Port) SyncWriter(addr uint16, width int) dxl.BatchWriter {
	return &syncWrite{port: p, addr: addr, width: width, data: make(map[byte][]byte)}
}

// SyncReader creates a batch read handle for one register.
func (p *Port) SyncReader(addr uint16, width int) dxl.BatchReader {
	return &syncRead{port: p, addr: addr, width: width, results: make(map[byte][]byte)}
}

// send assumes the port lock is held. Stale input is flushed first so a
// late reply to an earlier transaction cannot be taken for this one.
func (p *Port) send(packet []byte) error {
	if err := p.port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("flush input: %w", err)
	}
	n, err := p.port.Write(packet)
	if err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if n != len(packet) {
		return fmt.Errorf("incomplete write: %d of %d bytes", n, len(packet))
	}
	return nil
}

// receiveStatus reads one status packet carrying dataLen payload bytes.
func (p *Port) receiveStatus(ctx context.Context, dataLen int) (Packet, error) {
	raw, err := p.receive(ctx, statusOverhead+dataLen)
	if err != nil {
		return Packet{}, err
	}
	pkt, _, err := Decode(raw)
	return pkt, err
}

// receive reads expected bytes or fails at the deadline. It assumes the
// port lock is held; suspension happens only here, so a caller observes
// either a completed transaction or a reported failure.
func (p *Port) receive(ctx context.Context, expected int) ([]byte, error) {
	buf := make([]byte, expected*2) // slack for resync after garbage
	total := 0
	deadline := time.Now().Add(p.timeout)

	for total < expected {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			if total == 0 {
				return nil, ErrNoResponse
			}
			// Partial data is still returned so batched reads can salvage
			// the devices that did answer.
			return buf[:total], fmt.Errorf("timeout: read %d of %d expected bytes", total, expected)
		}

		remaining := max(time.Until(deadline), 10*time.Millisecond)
		if err := p.port.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}

		n, err := p.port.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			time.Sleep(time.Millisecond)
			continue
		}
		total += n
	}
	return buf[:total], nil
}
