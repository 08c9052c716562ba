package dxl

import "math"

// PulseToRadian converts a raw position in encoder pulses to radians.
// One full revolution equals pulsePerRevolution pulses.
func PulseToRadian(pulse, pulsePerRevolution int) float64 {
	return float64(pulse) / float64(pulsePerRevolution) * 2 * math.Pi
}

// RadianToPulse converts radians to encoder pulses, truncating toward zero.
// The result is not clamped to the device's pulse range; position limits are
// applied by the controllers, not by the codec.
func RadianToPulse(radian float64, pulsePerRevolution int) int {
	return int(radian / (2 * math.Pi) * float64(pulsePerRevolution))
}

// CurrentToMilliamps converts device current units to milliamps.
// milliampPerUnit is the per-series scale factor (mA per LSB).
func CurrentToMilliamps(units int, milliampPerUnit float64) float64 {
	return float64(units) * milliampPerUnit
}

// MilliampsToCurrent converts milliamps to device current units, truncating
// toward zero.
func MilliampsToCurrent(milliamps, milliampPerUnit float64) int {
	return int(milliamps / milliampPerUnit)
}

// EncodeValue encodes a signed value as an unsigned register word of the
// given width. Negative values wrap modulo 2^(8*width), matching the
// two's complement wire representation.
func EncodeValue(value, width int) uint32 {
	switch width {
	case 1:
		return uint32(byte(value))
	case 2:
		return uint32(uint16(int16(value)))
	default:
		return uint32(int32(value))
	}
}

// DecodeValue interprets an unsigned register word of the given width as a
// signed value.
func DecodeValue(raw uint32, width int) int {
	switch width {
	case 1:
		return int(raw & 0xFF)
	case 2:
		return int(int16(uint16(raw)))
	default:
		return int(int32(raw))
	}
}

// EncodeBytes encodes a signed value into width little-endian bytes, the
// per-device payload format used by batched writes.
func EncodeBytes(value, width int) []byte {
	raw := EncodeValue(value, width)
	buf := make([]byte, width)
	for i := range buf {
		buf[i] = byte(raw >> (8 * i))
	}
	return buf
}

// DecodeBytes decodes little-endian bytes into a signed value. The width is
// taken from the slice length.
func DecodeBytes(data []byte) int {
	var raw uint32
	for i, b := range data {
		raw |= uint32(b) << (8 * i)
	}
	return DecodeValue(raw, len(data))
}
