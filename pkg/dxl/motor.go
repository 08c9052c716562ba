package dxl

import "fmt"

// OperatingMode selects which control loop the actuator firmware runs.
type OperatingMode int

const (
	ModeCurrent              OperatingMode = 0
	ModeVelocity             OperatingMode = 1
	ModePosition             OperatingMode = 3
	ModeExtendedPosition     OperatingMode = 4
	ModeCurrentBasedPosition OperatingMode = 5
	ModePWM                  OperatingMode = 16
)

func (m OperatingMode) String() string {
	switch m {
	case ModeCurrent:
		return "current"
	case ModeVelocity:
		return "velocity"
	case ModePosition:
		return "position"
	case ModeExtendedPosition:
		return "extended_position"
	case ModeCurrentBasedPosition:
		return "current_based_position"
	case ModePWM:
		return "pwm"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MaxID is the highest unicast bus id.
const MaxID = 252

// ControlParams configures how one motor is driven. Callers set these before
// a session is opened; they must not change while a session is active.
type ControlParams struct {
	// Mode is written to the operating-mode register during acquisition.
	Mode OperatingMode

	// Offset in pulses, added to goal positions and subtracted from present
	// positions. Velocity, current and PWM are never offset: only position
	// has a physically meaningful zero (the home position).
	Offset int

	// MinPosition/MaxPosition bound goal positions in pulses. Both zero
	// means unbounded.
	MinPosition int
	MaxPosition int
}

// Motor describes one actuator on the bus: its series, bus id and control
// parameters, with the series' control table resolved at construction.
type Motor struct {
	Series Series
	ID     int
	Params ControlParams

	table *Table
}

// NewMotor validates the identity and resolves the control table for the
// series. No bus I/O happens here.
func NewMotor(series Series, id int, params ControlParams) (*Motor, error) {
	if id < 1 || id > MaxID {
		return nil, fmt.Errorf("%w: %d (valid range 1-%d)", ErrInvalidID, id, MaxID)
	}
	table, err := TableFor(series)
	if err != nil {
		return nil, err
	}
	return &Motor{
		Series: series,
		ID:     id,
		Params: params,
		table:  table,
	}, nil
}

// Table returns the motor's resolved control table.
func (m *Motor) Table() *Table {
	return m.table
}

// clampGoal applies the configured position bounds, when set.
func (m *Motor) clampGoal(pulse int) int {
	if m.Params.MaxPosition <= m.Params.MinPosition {
		return pulse
	}
	if pulse < m.Params.MinPosition {
		return m.Params.MinPosition
	}
	if pulse > m.Params.MaxPosition {
		return m.Params.MaxPosition
	}
	return pulse
}
