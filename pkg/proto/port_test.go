package proto

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.bug.st/serial"
)

// scriptedPort is a serial.Port fed with canned response bytes.
type scriptedPort struct {
	response []byte
	written  []byte

	readTimeoutErr error
}

func (s *scriptedPort) SetMode(mode *serial.Mode) error { return nil }

func (s *scriptedPort) Read(p []byte) (int, error) {
	if len(s.response) == 0 {
		return 0, nil
	}
	n := copy(p, s.response)
	s.response = s.response[n:]
	return n, nil
}

func (s *scriptedPort) Write(p []byte) (int, error) {
	s.written = append(s.written, p...)
	return len(p), nil
}

func (s *scriptedPort) Drain() error             { return nil }
func (s *scriptedPort) ResetInputBuffer() error  { return nil }
func (s *scriptedPort) ResetOutputBuffer() error { return nil }
func (s *scriptedPort) SetDTR(dtr bool) error    { return nil }
func (s *scriptedPort) SetRTS(rts bool) error    { return nil }

func (s *scriptedPort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func (s *scriptedPort) SetReadTimeout(t time.Duration) error { return s.readTimeoutErr }
func (s *scriptedPort) Close() error                         { return nil }
func (s *scriptedPort) Break(d time.Duration) error          { return nil }

func newScriptedTransport(script *scriptedPort) *Port {
	return &Port{
		timeout: 100 * time.Millisecond,
		port:    script,
		baud:    57600,
		open:    true,
	}
}

func TestReadRegisterExchange(t *testing.T) {
	script := &scriptedPort{
		response: Encode(Packet{
			ID:          1,
			Instruction: instStatus,
			Params:      []byte{0x00, 0xE8, 0x03, 0x00, 0x00},
		}),
	}
	p := newScriptedTransport(script)

	raw, err := p.ReadRegister(context.Background(), 1, 132, 4)
	if err != nil {
		t.Fatalf("ReadRegister: %v", err)
	}
	if raw != 1000 {
		t.Errorf("raw = %d, want 1000", raw)
	}

	pkt, _, err := Decode(script.written)
	if err != nil {
		t.Fatalf("decode sent packet: %v", err)
	}
	if pkt.Instruction != instRead || pkt.ID != 1 {
		t.Errorf("sent id=%d inst=0x%02X", pkt.ID, pkt.Instruction)
	}
}

func TestReceiveFailsWhenTimeoutCannotArm(t *testing.T) {
	armErr := errors.New("ioctl failed")
	script := &scriptedPort{readTimeoutErr: armErr}
	p := newScriptedTransport(script)

	_, err := p.ReadRegister(context.Background(), 1, 132, 4)
	if err == nil {
		t.Fatal("ReadRegister succeeded with an unarmed read timeout")
	}
	if !errors.Is(err, armErr) {
		t.Errorf("err = %v, want wrapped %v", err, armErr)
	}
}
