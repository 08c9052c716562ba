package dxl

import "context"

// Transport is the packet engine for one half-duplex bus. Implementations
// own framing, checksums, addressing and wire-level retries; this package
// owns unit conversion, batching and the session lifecycle.
//
// The bus is a shared, exclusively-owned resource: implementations must
// serialize transactions, and no two transactions may be in flight at once.
type Transport interface {
	// Open opens the underlying port. Close releases it; closing a closed
	// transport is a no-op.
	Open() error
	Close() error

	// SetBaudRate reconfigures the host side of the link.
	SetBaudRate(baud int) error

	// ReadRegister and WriteRegister exchange a single fixed-width register
	// value, unsigned on the wire. A non-nil error is either a *CommError
	// (the exchange failed) or a *DeviceError (the actuator reported a
	// fault on a completed exchange).
	ReadRegister(ctx context.Context, id int, addr uint16, width int) (uint32, error)
	WriteRegister(ctx context.Context, id int, addr uint16, width int, value uint32) error

	// SyncWriter and SyncReader create reusable batch handles bound to one
	// register address and width. Handles are not safe for concurrent use;
	// the controllers guard them with the session lock.
	SyncWriter(addr uint16, width int) BatchWriter
	SyncReader(addr uint16, width int) BatchReader
}

// BatchWriter accumulates per-device payloads for one batched write
// transaction covering many devices.
type BatchWriter interface {
	// Clear discards all accumulated entries. Callers clear before every
	// batch so no stale entry leaks into a later transaction.
	Clear()

	// Add stages data for one device. len(data) must equal the handle's
	// register width.
	Add(id int, data []byte) error

	// Submit issues the batched write as a single bus exchange.
	Submit(ctx context.Context) error
}

// BatchReader accumulates device ids for one batched read transaction and
// holds the per-device results afterward.
type BatchReader interface {
	Clear()
	Add(id int) error

	// Submit issues the batched read. It succeeds at the transaction level
	// even when individual devices fail to answer; check Available per id.
	Submit(ctx context.Context) error

	// Available reports whether Submit produced data for the device.
	Available(id int) bool

	// Data returns the raw little-endian register bytes for the device.
	Data(id int) ([]byte, error)
}
