package dxl

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// busEvent records one bus exchange in issue order.
type busEvent struct {
	kind  string // "write", "read", "sync_write", "sync_read"
	id    int    // single exchanges only
	addr  uint16
	value uint32         // single writes
	batch map[int][]byte // sync writes
}

type regKey struct {
	id   int
	addr uint16
}

// fakeTransport is an in-memory Transport for behavioral tests. Register
// values for reads are preconfigured in regs; failures are injected per id
// or per address.
type fakeTransport struct {
	mu     sync.Mutex
	open   bool
	baud   int
	events []busEvent

	openErr      error
	baudErr      error
	regs         map[regKey]uint32
	readErr      map[int]error    // single reads, by id
	writeErr     map[uint16]error // single writes, by address
	syncWriteErr map[uint16]error // batch submits, by address
	unavailable  map[int]bool     // ids missing from batch read results
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		regs:         make(map[regKey]uint32),
		readErr:      make(map[int]error),
		writeErr:     make(map[uint16]error),
		syncWriteErr: make(map[uint16]error),
		unavailable:  make(map[int]bool),
	}
}

func (f *fakeTransport) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open = false
	return nil
}

func (f *fakeTransport) SetBaudRate(baud int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.baudErr != nil {
		return f.baudErr
	}
	f.baud = baud
	return nil
}

func (f *fakeTransport) ReadRegister(ctx context.Context, id int, addr uint16, width int) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return 0, errors.New("port not open")
	}
	if err := f.readErr[id]; err != nil {
		return 0, err
	}
	f.events = append(f.events, busEvent{kind: "read", id: id, addr: addr})
	return f.regs[regKey{id: id, addr: addr}], nil
}

func (f *fakeTransport) WriteRegister(ctx context.Context, id int, addr uint16, width int, value uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.open {
		return errors.New("port not open")
	}
	if err := f.writeErr[addr]; err != nil {
		return err
	}
	f.events = append(f.events, busEvent{kind: "write", id: id, addr: addr, value: value})
	return nil
}

func (f *fakeTransport) SyncWriter(addr uint16, width int) BatchWriter {
	return &fakeWriter{f: f, addr: addr, width: width, batch: make(map[int][]byte)}
}

func (f *fakeTransport) SyncReader(addr uint16, width int) BatchReader {
	return &fakeReader{f: f, addr: addr, width: width, results: make(map[int][]byte)}
}

// writesTo returns the recorded events touching an address, in issue order.
func (f *fakeTransport) writesTo(addr uint16) []busEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []busEvent
	for _, ev := range f.events {
		if ev.addr == addr && ev.kind != "read" {
			out = append(out, ev)
		}
	}
	return out
}

type fakeWriter struct {
	f     *fakeTransport
	addr  uint16
	width int
	batch map[int][]byte
}

func (w *fakeWriter) Clear() {
	clear(w.batch)
}

func (w *fakeWriter) Add(id int, data []byte) error {
	if len(data) != w.width {
		return fmt.Errorf("data length mismatch: want %d, got %d", w.width, len(data))
	}
	w.batch[id] = data
	return nil
}

func (w *fakeWriter) Submit(ctx context.Context) error {
	w.f.mu.Lock()
	defer w.f.mu.Unlock()
	if !w.f.open {
		return errors.New("port not open")
	}
	if err := w.f.syncWriteErr[w.addr]; err != nil {
		return err
	}
	batch := make(map[int][]byte, len(w.batch))
	for id, data := range w.batch {
		batch[id] = append([]byte(nil), data...)
	}
	w.f.events = append(w.f.events, busEvent{kind: "sync_write", addr: w.addr, batch: batch})
	return nil
}

type fakeReader struct {
	f       *fakeTransport
	addr    uint16
	width   int
	ids     []int
	results map[int][]byte
}

func (r *fakeReader) Clear() {
	r.ids = r.ids[:0]
	clear(r.results)
}

func (r *fakeReader) Add(id int) error {
	r.ids = append(r.ids, id)
	return nil
}

func (r *fakeReader) Submit(ctx context.Context) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if !r.f.open {
		return errors.New("port not open")
	}
	clear(r.results)
	for _, id := range r.ids {
		if r.f.unavailable[id] {
			continue
		}
		raw := r.f.regs[regKey{id: id, addr: r.addr}]
		data := make([]byte, r.width)
		for i := range data {
			data[i] = byte(raw >> (8 * i))
		}
		r.results[id] = data
	}
	r.f.events = append(r.f.events, busEvent{kind: "sync_read", addr: r.addr})
	return nil
}

func (r *fakeReader) Available(id int) bool {
	_, ok := r.results[id]
	return ok
}

func (r *fakeReader) Data(id int) ([]byte, error) {
	data, ok := r.results[id]
	if !ok {
		return nil, fmt.Errorf("%w for motor %d", ErrNoData, id)
	}
	return data, nil
}
