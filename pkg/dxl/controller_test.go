package dxl

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestController(t *testing.T, f *fakeTransport, params ControlParams) *Controller {
	t.Helper()
	motor, err := NewMotor(SeriesXM430, 1, params)
	require.NoError(t, err)
	c, err := NewController(ControllerConfig{
		Transport: f,
		Motor:     motor,
		Logger:    quietLogger(),
	})
	require.NoError(t, err)
	return c
}

func TestControllerOpenSequence(t *testing.T) {
	f := newFakeTransport()
	c := newTestController(t, f, ControlParams{Mode: ModePosition})
	ctx := context.Background()

	require.NoError(t, c.Open(ctx))
	assert.Equal(t, DefaultBaudRate, f.baud)

	// Probe read, then operating mode, then torque enable.
	require.Len(t, f.events, 3)
	assert.Equal(t, busEvent{kind: "read", id: 1, addr: 132}, f.events[0])
	assert.Equal(t, busEvent{kind: "write", id: 1, addr: 11, value: uint32(ModePosition)}, f.events[1])
	assert.Equal(t, busEvent{kind: "write", id: 1, addr: 64, value: 1}, f.events[2])
}

func TestControllerOpenFailureClosesPort(t *testing.T) {
	f := newFakeTransport()
	f.writeErr[11] = errors.New("no ack") // operating mode register
	c := newTestController(t, f, ControlParams{Mode: ModePosition})

	err := c.Open(context.Background())
	require.Error(t, err)
	assert.False(t, f.open, "port must be closed after a failed acquisition")

	// The session never became usable.
	assert.ErrorIs(t, c.SetGoalPosition(context.Background(), 100), ErrSessionClosed)
}

func TestControllerUnreachableProbe(t *testing.T) {
	f := newFakeTransport()
	f.readErr[1] = errors.New("timeout")
	c := newTestController(t, f, ControlParams{Mode: ModePosition})

	err := c.Open(context.Background())
	var unreachable *UnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, 1, unreachable.ID)
	assert.False(t, f.open)
}

func TestControllerPositionOffset(t *testing.T) {
	f := newFakeTransport()
	c := newTestController(t, f, ControlParams{Mode: ModePosition, Offset: 100})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))

	require.NoError(t, c.SetGoalPosition(ctx, 1000))
	writes := f.writesTo(116)
	require.Len(t, writes, 1)
	assert.Equal(t, uint32(1100), writes[0].value)

	// Present position subtracts the offset, sign preserved.
	f.regs[regKey{id: 1, addr: 132}] = EncodeValue(-20, 4)
	pos, err := c.PresentPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, -120, pos)
}

func TestControllerGoalClampedToBounds(t *testing.T) {
	f := newFakeTransport()
	c := newTestController(t, f, ControlParams{
		Mode:        ModePosition,
		MinPosition: 1000,
		MaxPosition: 3000,
	})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))

	require.NoError(t, c.SetGoalPosition(ctx, 9999))
	writes := f.writesTo(116)
	require.Len(t, writes, 1)
	assert.Equal(t, uint32(3000), writes[0].value)
}

func TestControllerVelocityNoOffset(t *testing.T) {
	f := newFakeTransport()
	c := newTestController(t, f, ControlParams{Mode: ModeVelocity, Offset: 100})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))

	require.NoError(t, c.SetGoalVelocity(ctx, -50))
	writes := f.writesTo(104)
	require.Len(t, writes, 1)
	assert.Equal(t, EncodeValue(-50, 4), writes[0].value)
}

func TestControllerVelocityModeRelease(t *testing.T) {
	f := newFakeTransport()
	c := newTestController(t, f, ControlParams{Mode: ModeVelocity})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))

	require.NoError(t, c.Close(ctx))

	// Zero velocity must be commanded before torque is disabled.
	var shutdown []busEvent
	for _, ev := range f.events[3:] { // skip the acquisition exchanges
		if ev.kind == "write" {
			shutdown = append(shutdown, ev)
		}
	}
	require.Len(t, shutdown, 2)
	assert.Equal(t, uint16(104), shutdown[0].addr)
	assert.Equal(t, uint32(0), shutdown[0].value)
	assert.Equal(t, uint16(64), shutdown[1].addr)
	assert.Equal(t, uint32(0), shutdown[1].value)
	assert.False(t, f.open)
}

func TestControllerClosedSessionFails(t *testing.T) {
	f := newFakeTransport()
	c := newTestController(t, f, ControlParams{Mode: ModePosition})
	ctx := context.Background()

	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Close(ctx))

	assert.ErrorIs(t, c.SetGoalPosition(ctx, 100), ErrSessionClosed)
	_, err := c.PresentPosition(ctx)
	assert.ErrorIs(t, err, ErrSessionClosed)

	// Closing again is a no-op.
	assert.NoError(t, c.Close(ctx))
}

func TestControllerMilliampConversion(t *testing.T) {
	f := newFakeTransport()
	c := newTestController(t, f, ControlParams{Mode: ModeCurrent})
	ctx := context.Background()
	require.NoError(t, c.Open(ctx))

	// XM430 scales 2.69 mA per unit: 269 mA -> 100 units.
	require.NoError(t, c.SetGoalCurrentMilliamps(ctx, 269.0))
	writes := f.writesTo(102)
	require.Len(t, writes, 1)
	assert.Equal(t, uint32(100), writes[0].value)

	f.regs[regKey{id: 1, addr: 126}] = EncodeValue(200, 2)
	ma, err := c.PresentCurrentMilliamps(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 538.0, ma, 0.001)
}
