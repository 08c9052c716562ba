package dxl

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrSessionClosed = errors.New("session is closed")
	ErrUnknownSeries = errors.New("unknown servo series")
	ErrUnknownMotor  = errors.New("motor id not in group")
	ErrInvalidID     = errors.New("invalid motor id")
	ErrNoData        = errors.New("no data available")
)

// CommError is a bus-level communication failure: the exchange itself did
// not complete.
type CommError struct {
	Op  string
	Err error
}

func (e *CommError) Error() string {
	return fmt.Sprintf("comm failure during %s: %v", e.Op, e.Err)
}

func (e *CommError) Unwrap() error { return e.Err }

// DeviceError is a fault the actuator reports in the status packet of an
// otherwise successful exchange.
type DeviceError struct {
	ID   int
	Code byte
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("motor %d reported %s", e.ID, deviceErrorDesc(e.Code))
}

// deviceErrorDesc maps Protocol 2.0 status error codes to the descriptions
// from the device documentation. Bit 7 flags a hardware alert.
func deviceErrorDesc(code byte) string {
	desc := "unknown error"
	switch code &^ 0x80 {
	case 0x01:
		desc = "result fail"
	case 0x02:
		desc = "instruction error"
	case 0x03:
		desc = "CRC error"
	case 0x04:
		desc = "data range error"
	case 0x05:
		desc = "data length error"
	case 0x06:
		desc = "data limit error"
	case 0x07:
		desc = "access error"
	}
	if code&0x80 != 0 {
		desc += " (hardware alert)"
	}
	return fmt.Sprintf("%s (0x%02X)", desc, code)
}

// UnreachableError reports a motor that failed its reachability probe
// during group acquisition. The acquisition aborts as a whole.
type UnreachableError struct {
	ID  int
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("motor %d unreachable: %v", e.ID, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }
