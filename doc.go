// Package godxl controls Dynamixel smart servo actuators over a shared
// half-duplex serial bus.
//
// It provides per-motor and whole-group control primitives on top of the
// Protocol 2.0 packet engine: unit conversion between physical quantities
// (radians, milliamps) and device register encodings, synchronized
// multi-motor batch reads and writes, and a safe acquire/release lifecycle
// that never leaves a motor energized in an undefined mode.
//
// # Usage
//
// Describe the motors, open a group session, command goals, and let the
// controller wind the bus down safely:
//
//	motor, _ := dxl.NewMotor(dxl.SeriesXM430, 1, dxl.ControlParams{Mode: dxl.ModePosition})
//	group, _ := dxl.NewGroupController(dxl.GroupConfig{
//		Transport: proto.NewPort(proto.PortConfig{Name: "/dev/ttyUSB0"}),
//		Motors:    []*dxl.Motor{motor},
//	})
//	if err := group.Open(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer group.Close(ctx)
//	group.SetGoalPositions(ctx, map[int]int{1: 2048})
//
// # Packages
//
// The module is organized into the following packages:
//
//   - pkg/dxl: motor descriptors, unit codec, single-motor and group controllers
//   - pkg/proto: Protocol 2.0 packet codec and serial port transport
//   - cmd/dxl: CLI with scan, monitor and sweep commands
package godxl
