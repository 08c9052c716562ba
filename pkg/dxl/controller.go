package dxl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Settling delays used during shutdown: a stopped motor gets stopSettle to
// decelerate under control before torque is cut, and torqueSettle elapses
// between torque-off and closing the port.
const (
	stopSettle   = 200 * time.Millisecond
	torqueSettle = 100 * time.Millisecond
)

// DefaultBaudRate is the factory baud rate of X-series devices.
const DefaultBaudRate = 57600

// DefaultMovingThreshold is the pulse distance below which a goal counts as
// reached when polling.
const DefaultMovingThreshold = 20

type sessionState int

const (
	stateClosed sessionState = iota
	stateConfigured
	stateActive
	stateShutdown
)

// Controller drives a single motor through its own bus session.
//
// All methods are safe for concurrent use; a session lock serializes bus
// transactions so at most one is in flight.
type Controller struct {
	motor     *Motor
	transport Transport
	baud      int
	logger    *slog.Logger

	mu    sync.Mutex
	state sessionState
}

// ControllerConfig configures a single-motor Controller.
type ControllerConfig struct {
	// Transport is the packet engine for the bus. Required.
	Transport Transport

	// Motor is the actuator to drive. Required.
	Motor *Motor

	// BaudRate for the session. Default is DefaultBaudRate.
	BaudRate int

	// Logger receives structured session and warning logs.
	// Default is slog.Default().
	Logger *slog.Logger
}

// NewController creates a controller. No bus I/O happens until Open.
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport must be specified")
	}
	if cfg.Motor == nil {
		return nil, fmt.Errorf("motor must be specified")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Controller{
		motor:     cfg.Motor,
		transport: cfg.Transport,
		baud:      cfg.BaudRate,
		logger:    cfg.Logger,
	}, nil
}

// Motor returns the controller's motor descriptor.
func (c *Controller) Motor() *Motor {
	return c.motor
}

// Open acquires the bus: open the port, set the baud rate, verify the motor
// answers a position read, write the configured operating mode, then enable
// torque. If any step fails the port is closed again before the error is
// returned, so the caller never holds a half-initialized session.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateClosed {
		return fmt.Errorf("session already open")
	}

	if err := c.transport.Open(); err != nil {
		return fmt.Errorf("open port: %w", err)
	}
	if err := c.transport.SetBaudRate(c.baud); err != nil {
		c.transport.Close()
		return fmt.Errorf("set baud rate %d: %w", c.baud, err)
	}

	if _, err := c.read(ctx, RegPresentPosition); err != nil {
		c.transport.Close()
		return &UnreachableError{ID: c.motor.ID, Err: err}
	}

	if err := c.write(ctx, RegOperatingMode, int(c.motor.Params.Mode)); err != nil {
		c.transport.Close()
		return fmt.Errorf("set operating mode %s: %w", c.motor.Params.Mode, err)
	}
	c.state = stateConfigured

	if err := c.write(ctx, RegTorqueEnable, 1); err != nil {
		c.transport.Close()
		c.state = stateClosed
		return fmt.Errorf("enable torque: %w", err)
	}
	c.state = stateActive

	c.logger.Info("session active", "id", c.motor.ID, "mode", c.motor.Params.Mode)
	return nil
}

// Close releases the bus. Motors in velocity mode are commanded to zero
// velocity and given time to decelerate before torque is cut; PWM and
// current-driven modes are zeroed first as well. Every step runs even when
// an earlier one fails: shutdown is best-effort and step failures are
// logged, not returned.
func (c *Controller) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == stateClosed {
		return nil
	}
	c.state = stateShutdown

	switch c.motor.Params.Mode {
	case ModeVelocity:
		if err := c.write(ctx, RegGoalVelocity, 0); err != nil {
			c.logger.Warn("stop command failed", "id", c.motor.ID, "err", err)
		}
		time.Sleep(stopSettle)
	case ModePWM:
		if err := c.write(ctx, RegGoalPWM, 0); err != nil {
			c.logger.Warn("zero pwm failed", "id", c.motor.ID, "err", err)
		}
	case ModeCurrent, ModeCurrentBasedPosition:
		if err := c.write(ctx, RegGoalCurrent, 0); err != nil {
			c.logger.Warn("zero current failed", "id", c.motor.ID, "err", err)
		}
	}

	if err := c.write(ctx, RegTorqueEnable, 0); err != nil {
		c.logger.Warn("disable torque failed", "id", c.motor.ID, "err", err)
	}
	time.Sleep(torqueSettle)

	err := c.transport.Close()
	c.state = stateClosed
	c.logger.Info("session closed", "id", c.motor.ID)
	return err
}

// SetOperatingMode writes the operating-mode register. The device accepts
// the write but silently ignores it while torque is enabled; disabling
// torque first is the caller's responsibility.
func (c *Controller) SetOperatingMode(ctx context.Context, mode OperatingMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.write(ctx, RegOperatingMode, int(mode))
}

// EnableTorque energizes the drive electronics.
func (c *Controller) EnableTorque(ctx context.Context) error {
	return c.writeOp(ctx, RegTorqueEnable, 1)
}

// DisableTorque de-energizes the drive electronics.
func (c *Controller) DisableTorque(ctx context.Context) error {
	return c.writeOp(ctx, RegTorqueEnable, 0)
}

// SetGoalPosition commands a goal position in pulses. The configured offset
// is added and, when position bounds are set, the goal is clamped to them.
func (c *Controller) SetGoalPosition(ctx context.Context, pulse int) error {
	return c.writeOp(ctx, RegGoalPosition, c.motor.clampGoal(pulse)+c.motor.Params.Offset)
}

// PresentPosition reads the current position in pulses, offset removed.
func (c *Controller) PresentPosition(ctx context.Context) (int, error) {
	raw, err := c.readOp(ctx, RegPresentPosition)
	if err != nil {
		return 0, err
	}
	return raw - c.motor.Params.Offset, nil
}

// SetGoalVelocity commands a goal velocity in device units. No offset.
func (c *Controller) SetGoalVelocity(ctx context.Context, velocity int) error {
	return c.writeOp(ctx, RegGoalVelocity, velocity)
}

// PresentVelocity reads the current velocity in device units.
func (c *Controller) PresentVelocity(ctx context.Context) (int, error) {
	return c.readOp(ctx, RegPresentVelocity)
}

// SetGoalPWM commands a goal PWM in device units.
func (c *Controller) SetGoalPWM(ctx context.Context, pwm int) error {
	return c.writeOp(ctx, RegGoalPWM, pwm)
}

// PresentPWM reads the current PWM in device units.
func (c *Controller) PresentPWM(ctx context.Context) (int, error) {
	return c.readOp(ctx, RegPresentPWM)
}

// SetGoalCurrent commands a goal current in device units.
func (c *Controller) SetGoalCurrent(ctx context.Context, current int) error {
	return c.writeOp(ctx, RegGoalCurrent, current)
}

// PresentCurrent reads the current draw in device units.
func (c *Controller) PresentCurrent(ctx context.Context) (int, error) {
	return c.readOp(ctx, RegPresentCurrent)
}

// SetGoalPositionRadians commands a goal position in radians.
func (c *Controller) SetGoalPositionRadians(ctx context.Context, radians float64) error {
	return c.SetGoalPosition(ctx, RadianToPulse(radians, c.motor.table.PulsePerRevolution))
}

// PresentPositionRadians reads the current position in radians.
func (c *Controller) PresentPositionRadians(ctx context.Context) (float64, error) {
	pulse, err := c.PresentPosition(ctx)
	if err != nil {
		return 0, err
	}
	return PulseToRadian(pulse, c.motor.table.PulsePerRevolution), nil
}

// SetGoalCurrentMilliamps commands a goal current in milliamps.
func (c *Controller) SetGoalCurrentMilliamps(ctx context.Context, milliamps float64) error {
	return c.SetGoalCurrent(ctx, MilliampsToCurrent(milliamps, c.motor.table.CurrentUnit))
}

// PresentCurrentMilliamps reads the current draw in milliamps.
func (c *Controller) PresentCurrentMilliamps(ctx context.Context) (float64, error) {
	units, err := c.PresentCurrent(ctx)
	if err != nil {
		return 0, err
	}
	return CurrentToMilliamps(units, c.motor.table.CurrentUnit), nil
}

// WaitForPosition polls the present position until it is within threshold
// pulses of goal, or ctx is done. threshold <= 0 uses
// DefaultMovingThreshold.
func (c *Controller) WaitForPosition(ctx context.Context, goal, threshold int) error {
	if threshold <= 0 {
		threshold = DefaultMovingThreshold
	}
	for {
		pos, err := c.PresentPosition(ctx)
		if err != nil {
			return err
		}
		if diff := pos - goal; -threshold <= diff && diff <= threshold {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// checkOpen is called with the session lock held.
func (c *Controller) checkOpen() error {
	if c.state == stateClosed || c.state == stateShutdown {
		return ErrSessionClosed
	}
	return nil
}

func (c *Controller) writeOp(ctx context.Context, reg Reg, value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.write(ctx, reg, value)
}

func (c *Controller) readOp(ctx context.Context, reg Reg) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(); err != nil {
		return 0, err
	}
	return c.read(ctx, reg)
}

// write and read assume the session lock is held.
func (c *Controller) write(ctx context.Context, reg Reg, value int) error {
	r := c.motor.table.Register(reg)
	return c.transport.WriteRegister(ctx, c.motor.ID, r.Address, r.Width, EncodeValue(value, r.Width))
}

func (c *Controller) read(ctx context.Context, reg Reg) (int, error) {
	r := c.motor.table.Register(reg)
	raw, err := c.transport.ReadRegister(ctx, c.motor.ID, r.Address, r.Width)
	if err != nil {
		return 0, err
	}
	if r.Signed {
		return DecodeValue(raw, r.Width), nil
	}
	return int(raw), nil
}
