package dxl

import (
	"math"
	"testing"
)

func TestEncodeDecodeValue4Byte(t *testing.T) {
	values := []int{
		math.MinInt32, // -2^31
		math.MaxInt32, // 2^31 - 1
		-1,
		0,
		1,
		-4096,
		123456,
		-123456,
	}

	for _, v := range values {
		raw := EncodeValue(v, 4)
		got := DecodeValue(raw, 4)
		if got != v {
			t.Errorf("DecodeValue(EncodeValue(%d, 4), 4) = %d", v, got)
		}
	}
}

func TestEncodeDecodeValue2Byte(t *testing.T) {
	values := []int{
		math.MinInt16, // -2^15
		math.MaxInt16, // 2^15 - 1
		-1,
		0,
		1,
		-500,
		500,
	}

	for _, v := range values {
		raw := EncodeValue(v, 2)
		got := DecodeValue(raw, 2)
		if got != v {
			t.Errorf("DecodeValue(EncodeValue(%d, 2), 2) = %d", v, got)
		}
	}
}

func TestEncodeValueWraps(t *testing.T) {
	tests := []struct {
		value int
		width int
		want  uint32
	}{
		{-1, 2, 0xFFFF},
		{-1, 4, 0xFFFFFFFF},
		{-5, 2, 0xFFFB},
		{-4096, 4, 0xFFFFF000},
		{1000, 4, 1000},
	}

	for _, tt := range tests {
		if got := EncodeValue(tt.value, tt.width); got != tt.want {
			t.Errorf("EncodeValue(%d, %d) = 0x%X, want 0x%X", tt.value, tt.width, got, tt.want)
		}
	}
}

func TestEncodeDecodeBytes(t *testing.T) {
	tests := []struct {
		value int
		width int
		want  []byte // little-endian wire form
	}{
		{1000, 4, []byte{0xE8, 0x03, 0x00, 0x00}},
		{-5, 2, []byte{0xFB, 0xFF}},
		{-1, 4, []byte{0xFF, 0xFF, 0xFF, 0xFF}},
		{1, 1, []byte{0x01}},
	}

	for _, tt := range tests {
		got := EncodeBytes(tt.value, tt.width)
		if len(got) != len(tt.want) {
			t.Fatalf("EncodeBytes(%d, %d) = % X, want % X", tt.value, tt.width, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("EncodeBytes(%d, %d) = % X, want % X", tt.value, tt.width, got, tt.want)
				break
			}
		}
		if tt.width > 1 {
			if back := DecodeBytes(got); back != tt.value {
				t.Errorf("DecodeBytes(% X) = %d, want %d", got, back, tt.value)
			}
		}
	}
}

func TestPulseToRadian(t *testing.T) {
	tests := []struct {
		pulse int
		ppr   int
		want  float64
	}{
		{4096, 4096, 2 * math.Pi},
		{2048, 4096, math.Pi},
		{1024, 4096, math.Pi / 2},
		{0, 4096, 0},
		{-2048, 4096, -math.Pi},
	}

	for _, tt := range tests {
		got := PulseToRadian(tt.pulse, tt.ppr)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("PulseToRadian(%d, %d) = %f, want %f", tt.pulse, tt.ppr, got, tt.want)
		}
	}
}

func TestRadianToPulseTruncatesTowardZero(t *testing.T) {
	// One pulse at 4096 ppr is ~0.00153 rad; 1.4 pulses worth of angle must
	// truncate to 1 in both directions.
	angle := 1.4 * 2 * math.Pi / 4096
	if got := RadianToPulse(angle, 4096); got != 1 {
		t.Errorf("RadianToPulse(+1.4 pulses) = %d, want 1", got)
	}
	if got := RadianToPulse(-angle, 4096); got != -1 {
		t.Errorf("RadianToPulse(-1.4 pulses) = %d, want -1", got)
	}
}

func TestRadianPulseRoundTrip(t *testing.T) {
	for _, ppr := range []int{1024, 4096, 1048576} {
		for _, pulse := range []int{-10000, -4096, -1, 0, 1, 2048, 4095, 4096, 99999} {
			rad := PulseToRadian(pulse, ppr)
			back := RadianToPulse(rad, ppr)
			if diff := back - pulse; diff < -1 || diff > 1 {
				t.Errorf("round trip ppr=%d: %d -> %f -> %d", ppr, pulse, rad, back)
			}
		}
	}
}

func TestCurrentConversions(t *testing.T) {
	if got := CurrentToMilliamps(100, 2.69); math.Abs(got-269.0) > 1e-9 {
		t.Errorf("CurrentToMilliamps(100, 2.69) = %f, want 269", got)
	}
	if got := MilliampsToCurrent(269.0, 2.69); got != 100 {
		t.Errorf("MilliampsToCurrent(269, 2.69) = %d, want 100", got)
	}
	// Truncation toward zero on the physical -> device direction.
	if got := MilliampsToCurrent(5.0, 2.69); got != 1 {
		t.Errorf("MilliampsToCurrent(5, 2.69) = %d, want 1", got)
	}
	if got := MilliampsToCurrent(-5.0, 2.69); got != -1 {
		t.Errorf("MilliampsToCurrent(-5, 2.69) = %d, want -1", got)
	}
}
