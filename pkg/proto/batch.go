package proto

import (
	"context"
	"fmt"

	"github.com/hmaruyama/godxl/pkg/dxl"
)

// syncWrite is a reusable sync-write buffer bound to one register address
// and width. Not safe for concurrent use; the controllers guard handles
// with their session lock.
type syncWrite struct {
	port  *Port
	addr  uint16
	width int

	ids  []byte // preserves staging order on the wire
	data map[byte][]byte
}

func (s *syncWrite) Clear() {
	s.ids = s.ids[:0]
	clear(s.data)
}

func (s *syncWrite) Add(id int, data []byte) error {
	if id < 0 || id >= BroadcastID {
		return fmt.Errorf("%w: %d", dxl.ErrInvalidID, id)
	}
	if len(data) != s.width {
		return fmt.Errorf("data length mismatch for motor %d: want %d bytes, got %d", id, s.width, len(data))
	}
	if _, dup := s.data[byte(id)]; dup {
		return fmt.Errorf("motor %d already staged", id)
	}
	s.ids = append(s.ids, byte(id))
	s.data[byte(id)] = data
	return nil
}

func (s *syncWrite) Submit(ctx context.Context) error {
	p := s.port
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return ErrPortClosed
	}
	if len(s.ids) == 0 {
		return nil
	}
	// Broadcast instruction: the devices send no status packets back.
	if err := p.send(syncWritePacket(s.addr, s.width, s.ids, s.data)); err != nil {
		return &dxl.CommError{Op: "sync_write", Err: err}
	}
	return nil
}

// syncRead is a reusable sync-read buffer bound to one register address and
// width. After Submit, per-device results stay readable until the next
// Clear.
type syncRead struct {
	port  *Port
	addr  uint16
	width int

	ids     []byte
	results map[byte][]byte
}

func (s *syncRead) Clear() {
	s.ids = s.ids[:0]
	clear(s.results)
}

func (s *syncRead) Add(id int) error {
	if id < 0 || id >= BroadcastID {
		return fmt.Errorf("%w: %d", dxl.ErrInvalidID, id)
	}
	s.ids = append(s.ids, byte(id))
	return nil
}

func (s *syncRead) Submit(ctx context.Context) error {
	p := s.port
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return ErrPortClosed
	}
	clear(s.results)
	if len(s.ids) == 0 {
		return nil
	}

	if err := p.send(syncReadPacket(s.addr, s.width, s.ids)); err != nil {
		return &dxl.CommError{Op: "sync_read", Err: err}
	}

	// Each addressed device answers with its own status packet, in id
	// order. Devices may drop out individually: collect what arrives and
	// leave the rest unavailable rather than failing the transaction.
	expected := len(s.ids) * (statusOverhead + s.width)
	raw, err := p.receive(ctx, expected)
	if len(raw) == 0 && err != nil {
		return &dxl.CommError{Op: "sync_read", Err: err}
	}

	for _, pkt := range decodeAll(raw, len(s.ids)) {
		if pkt.Err != 0 || len(pkt.Params) < s.width {
			continue
		}
		s.results[pkt.ID] = pkt.Params[:s.width]
	}
	return nil
}

func (s *syncRead) Available(id int) bool {
	_, ok := s.results[byte(id)]
	return ok
}

func (s *syncRead) Data(id int) ([]byte, error) {
	data, ok := s.results[byte(id)]
	if !ok {
		return nil, fmt.Errorf("%w for motor %d", dxl.ErrNoData, id)
	}
	return data, nil
}
