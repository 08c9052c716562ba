// Package dxl controls Dynamixel servo actuators sharing a half-duplex bus.
package dxl

import "fmt"

// Reg names a control-table register symbolically. Addresses vary per
// series; widths are fixed per name across all supported series so batch
// buffers stay portable.
type Reg int

const (
	RegTorqueEnable Reg = iota
	RegOperatingMode
	RegGoalPWM
	RegGoalCurrent
	RegGoalVelocity
	RegGoalPosition
	RegPresentPWM
	RegPresentCurrent
	RegPresentVelocity
	RegPresentPosition
)

// String returns the register name as written in the device documentation.
func (r Reg) String() string {
	switch r {
	case RegTorqueEnable:
		return "torque_enable"
	case RegOperatingMode:
		return "operating_mode"
	case RegGoalPWM:
		return "goal_pwm"
	case RegGoalCurrent:
		return "goal_current"
	case RegGoalVelocity:
		return "goal_velocity"
	case RegGoalPosition:
		return "goal_position"
	case RegPresentPWM:
		return "present_pwm"
	case RegPresentCurrent:
		return "present_current"
	case RegPresentVelocity:
		return "present_velocity"
	case RegPresentPosition:
		return "present_position"
	}
	return fmt.Sprintf("reg(%d)", int(r))
}

// Register describes one control-table entry.
type Register struct {
	Address uint16
	Width   int // 1, 2 or 4 bytes
	Signed  bool
}

// Series selects a device family and with it a control table.
type Series string

const (
	SeriesXM430 Series = "xm430"
	SeriesXM540 Series = "xm540"
	SeriesXL330 Series = "xl330"
)

// Table is the immutable control table for one series, shared read-only by
// every motor of that series.
type Table struct {
	Series             Series
	PulsePerRevolution int
	MaxPulse           int
	CurrentUnit        float64 // mA per device current unit

	registers map[Reg]Register
}

// Register returns the address, width and signedness for a symbolic name.
func (t *Table) Register(r Reg) Register {
	return t.registers[r]
}

// X-series control table (Protocol 2.0 RAM area). Shared by the XM and XL330
// families; only resolution and current scaling differ between them.
var xSeriesRegisters = map[Reg]Register{
	RegOperatingMode:   {Address: 11, Width: 1},
	RegTorqueEnable:    {Address: 64, Width: 1},
	RegGoalPWM:         {Address: 100, Width: 2, Signed: true},
	RegGoalCurrent:     {Address: 102, Width: 2, Signed: true},
	RegGoalVelocity:    {Address: 104, Width: 4, Signed: true},
	RegGoalPosition:    {Address: 116, Width: 4, Signed: true},
	RegPresentPWM:      {Address: 124, Width: 2, Signed: true},
	RegPresentCurrent:  {Address: 126, Width: 2, Signed: true},
	RegPresentVelocity: {Address: 128, Width: 4, Signed: true},
	RegPresentPosition: {Address: 132, Width: 4, Signed: true},
}

var tables = map[Series]*Table{
	SeriesXM430: {
		Series:             SeriesXM430,
		PulsePerRevolution: 4096,
		MaxPulse:           4095,
		CurrentUnit:        2.69, // XM430-W350
		registers:          xSeriesRegisters,
	},
	SeriesXM540: {
		Series:             SeriesXM540,
		PulsePerRevolution: 4096,
		MaxPulse:           4095,
		CurrentUnit:        2.69,
		registers:          xSeriesRegisters,
	},
	SeriesXL330: {
		Series:             SeriesXL330,
		PulsePerRevolution: 4096,
		MaxPulse:           4095,
		CurrentUnit:        1.0,
		registers:          xSeriesRegisters,
	},
}

// TableFor resolves the control table for a series. The set of supported
// series is closed and known at build time.
func TableFor(series Series) (*Table, error) {
	t, ok := tables[series]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSeries, series)
	}
	return t, nil
}
