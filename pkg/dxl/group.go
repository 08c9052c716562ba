package dxl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// GroupController drives many motors sharing one bus, batching reads and
// writes into single exchanges to minimize bus round-trips.
//
// A per-controller session lock serializes transactions: operations issued
// sequentially complete in order, and overlapping calls from multiple
// goroutines are queued rather than interleaved on the wire.
type GroupController struct {
	transport Transport
	motors    map[int]*Motor
	order     []int // ascending ids, fixed at construction
	table     *Table
	baud      int
	logger    *slog.Logger

	// One reusable batch buffer per operation kind, cleared and repopulated
	// on every call.
	writeGoalPosition  BatchWriter
	writeGoalVelocity  BatchWriter
	writeGoalCurrent   BatchWriter
	writeTorqueEnable  BatchWriter
	writeOperatingMode BatchWriter
	readPresentPos     BatchReader

	mu    sync.Mutex
	state sessionState
}

// GroupConfig configures a GroupController.
type GroupConfig struct {
	// Transport is the packet engine for the shared bus. Required.
	Transport Transport

	// Motors lists every actuator on the bus. Required, non-empty, ids
	// unique.
	Motors []*Motor

	// BaudRate for the session. Default is DefaultBaudRate.
	BaudRate int

	// Logger receives structured session and warning logs.
	// Default is slog.Default().
	Logger *slog.Logger
}

// NewGroupController validates the motor set and allocates the batch buffers.
// No bus I/O happens until Open.
func NewGroupController(cfg GroupConfig) (*GroupController, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport must be specified")
	}
	if len(cfg.Motors) == 0 {
		return nil, fmt.Errorf("motor set cannot be empty")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	motors := make(map[int]*Motor, len(cfg.Motors))
	order := make([]int, 0, len(cfg.Motors))
	for _, m := range cfg.Motors {
		if _, dup := motors[m.ID]; dup {
			return nil, fmt.Errorf("duplicate motor id %d", m.ID)
		}
		motors[m.ID] = m
		order = append(order, m.ID)
	}
	sort.Ints(order)

	// Register widths are fixed per symbolic name across series, so the
	// first motor's table can key every batch buffer.
	table := cfg.Motors[0].Table()

	g := &GroupController{
		transport: cfg.Transport,
		motors:    motors,
		order:     order,
		table:     table,
		baud:      cfg.BaudRate,
		logger:    cfg.Logger,
	}
	g.writeGoalPosition = newWriter(cfg.Transport, table, RegGoalPosition)
	g.writeGoalVelocity = newWriter(cfg.Transport, table, RegGoalVelocity)
	g.writeGoalCurrent = newWriter(cfg.Transport, table, RegGoalCurrent)
	g.writeTorqueEnable = newWriter(cfg.Transport, table, RegTorqueEnable)
	g.writeOperatingMode = newWriter(cfg.Transport, table, RegOperatingMode)
	posReg := table.Register(RegPresentPosition)
	g.readPresentPos = cfg.Transport.SyncReader(posReg.Address, posReg.Width)
	return g, nil
}

func newWriter(t Transport, table *Table, reg Reg) BatchWriter {
	r := table.Register(reg)
	return t.SyncWriter(r.Address, r.Width)
}

// Motors returns the group's motor ids in ascending order.
func (g *GroupController) Motors() []int {
	ids := make([]int, len(g.order))
	copy(ids, g.order)
	return ids
}

// Open acquires the bus for the whole group: open the port, set the baud
// rate, verify every motor answers a position read, batch-write the
// configured operating modes, then batch-enable torque. A failure at any
// step closes the port again and surfaces the error; an unreachable motor
// is reported by id via *UnreachableError.
func (g *GroupController) Open(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != stateClosed {
		return fmt.Errorf("session already open")
	}

	if err := g.transport.Open(); err != nil {
		return fmt.Errorf("open port: %w", err)
	}
	if err := g.transport.SetBaudRate(g.baud); err != nil {
		g.transport.Close()
		return fmt.Errorf("set baud rate %d: %w", g.baud, err)
	}

	posReg := g.table.Register(RegPresentPosition)
	for _, id := range g.order {
		if _, err := g.transport.ReadRegister(ctx, id, posReg.Address, posReg.Width); err != nil {
			g.transport.Close()
			return &UnreachableError{ID: id, Err: err}
		}
		g.logger.Info("motor reachable", "id", id)
	}

	modes := make(map[int]OperatingMode, len(g.motors))
	for id, m := range g.motors {
		modes[id] = m.Params.Mode
	}
	if err := g.setOperatingModes(ctx, modes); err != nil {
		g.transport.Close()
		return fmt.Errorf("set operating modes: %w", err)
	}
	g.state = stateConfigured

	torques := make(map[int]bool, len(g.motors))
	for id := range g.motors {
		torques[id] = true
	}
	if err := g.setTorqueEnabled(ctx, torques); err != nil {
		g.transport.Close()
		g.state = stateClosed
		return fmt.Errorf("enable torque: %w", err)
	}
	g.state = stateActive

	g.logger.Info("group session active", "motors", len(g.motors))
	return nil
}

// Close releases the bus for the whole group. Motors in velocity mode are
// batch-commanded to zero velocity and given time to decelerate, then torque
// is batch-disabled for every motor regardless of mode, a second settling
// delay elapses, and the port is closed. Shutdown is best-effort: each step
// runs once even when an earlier one fails, and step failures are logged.
func (g *GroupController) Close(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == stateClosed {
		return nil
	}
	g.state = stateShutdown

	stops := make(map[int]int)
	for id, m := range g.motors {
		if m.Params.Mode == ModeVelocity {
			stops[id] = 0
		}
	}
	if len(stops) > 0 {
		if err := g.setGoalVelocities(ctx, stops); err != nil {
			g.logger.Warn("stop command failed", "err", err)
		}
		time.Sleep(stopSettle)
	}

	torques := make(map[int]bool, len(g.motors))
	for id := range g.motors {
		torques[id] = false
	}
	if err := g.setTorqueEnabled(ctx, torques); err != nil {
		g.logger.Warn("disable torque failed", "err", err)
	}
	time.Sleep(torqueSettle)

	err := g.transport.Close()
	g.state = stateClosed
	g.logger.Info("group session closed")
	return err
}

// SetGoalPositions batch-writes goal positions in pulses, applying each
// motor's offset and position bounds. Ids not in the group are skipped with
// a warning; the rest of the batch still goes out.
func (g *GroupController) SetGoalPositions(ctx context.Context, positions map[int]int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkActive(); err != nil {
		return err
	}
	return g.setGoalPositions(ctx, positions)
}

func (g *GroupController) setGoalPositions(ctx context.Context, positions map[int]int) error {
	width := g.table.Register(RegGoalPosition).Width
	g.writeGoalPosition.Clear()
	for id, pulse := range positions {
		m, ok := g.motors[id]
		if !ok {
			g.logger.Warn("skipping unknown motor", "id", id, "op", "set_goal_positions")
			continue
		}
		value := m.clampGoal(pulse) + m.Params.Offset
		if err := g.writeGoalPosition.Add(id, EncodeBytes(value, width)); err != nil {
			return fmt.Errorf("stage goal position for motor %d: %w", id, err)
		}
	}
	if err := g.writeGoalPosition.Submit(ctx); err != nil {
		return fmt.Errorf("sync write goal positions: %w", err)
	}
	return nil
}

// SetGoalVelocities batch-writes goal velocities in device units. No offset
// is applied.
func (g *GroupController) SetGoalVelocities(ctx context.Context, velocities map[int]int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkActive(); err != nil {
		return err
	}
	return g.setGoalVelocities(ctx, velocities)
}

func (g *GroupController) setGoalVelocities(ctx context.Context, velocities map[int]int) error {
	width := g.table.Register(RegGoalVelocity).Width
	g.writeGoalVelocity.Clear()
	for id, v := range velocities {
		if _, ok := g.motors[id]; !ok {
			g.logger.Warn("skipping unknown motor", "id", id, "op", "set_goal_velocities")
			continue
		}
		if err := g.writeGoalVelocity.Add(id, EncodeBytes(v, width)); err != nil {
			return fmt.Errorf("stage goal velocity for motor %d: %w", id, err)
		}
	}
	if err := g.writeGoalVelocity.Submit(ctx); err != nil {
		return fmt.Errorf("sync write goal velocities: %w", err)
	}
	return nil
}

// SetGoalCurrents batch-writes goal currents in device units.
func (g *GroupController) SetGoalCurrents(ctx context.Context, currents map[int]int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkActive(); err != nil {
		return err
	}
	return g.setGoalCurrents(ctx, currents)
}

func (g *GroupController) setGoalCurrents(ctx context.Context, currents map[int]int) error {
	width := g.table.Register(RegGoalCurrent).Width
	g.writeGoalCurrent.Clear()
	for id, c := range currents {
		if _, ok := g.motors[id]; !ok {
			g.logger.Warn("skipping unknown motor", "id", id, "op", "set_goal_currents")
			continue
		}
		if err := g.writeGoalCurrent.Add(id, EncodeBytes(c, width)); err != nil {
			return fmt.Errorf("stage goal current for motor %d: %w", id, err)
		}
	}
	if err := g.writeGoalCurrent.Submit(ctx); err != nil {
		return fmt.Errorf("sync write goal currents: %w", err)
	}
	return nil
}

// SetTorqueEnabled batch-writes the torque-enable register.
func (g *GroupController) SetTorqueEnabled(ctx context.Context, torques map[int]bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkActive(); err != nil {
		return err
	}
	return g.setTorqueEnabled(ctx, torques)
}

func (g *GroupController) setTorqueEnabled(ctx context.Context, torques map[int]bool) error {
	g.writeTorqueEnable.Clear()
	for id, on := range torques {
		if _, ok := g.motors[id]; !ok {
			g.logger.Warn("skipping unknown motor", "id", id, "op", "set_torque_enabled")
			continue
		}
		value := 0
		if on {
			value = 1
		}
		if err := g.writeTorqueEnable.Add(id, EncodeBytes(value, 1)); err != nil {
			return fmt.Errorf("stage torque enable for motor %d: %w", id, err)
		}
	}
	if err := g.writeTorqueEnable.Submit(ctx); err != nil {
		return fmt.Errorf("sync write torque enable: %w", err)
	}
	return nil
}

// SetOperatingModes batch-writes operating modes. As with the single-motor
// call, the device ignores the write while torque is enabled.
func (g *GroupController) SetOperatingModes(ctx context.Context, modes map[int]OperatingMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkActive(); err != nil {
		return err
	}
	return g.setOperatingModes(ctx, modes)
}

func (g *GroupController) setOperatingModes(ctx context.Context, modes map[int]OperatingMode) error {
	g.writeOperatingMode.Clear()
	for id, mode := range modes {
		if _, ok := g.motors[id]; !ok {
			g.logger.Warn("skipping unknown motor", "id", id, "op", "set_operating_modes")
			continue
		}
		if err := g.writeOperatingMode.Add(id, EncodeBytes(int(mode), 1)); err != nil {
			return fmt.Errorf("stage operating mode for motor %d: %w", id, err)
		}
	}
	if err := g.writeOperatingMode.Submit(ctx); err != nil {
		return fmt.Errorf("sync write operating modes: %w", err)
	}
	return nil
}

// PresentPositions batch-reads the present position of every motor in the
// group, offsets removed. Motors whose data does not come back are absent
// from the result with a warning; the call still succeeds at the
// transaction level, so callers must tolerate partial results.
func (g *GroupController) PresentPositions(ctx context.Context) (map[int]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkActive(); err != nil {
		return nil, err
	}
	return g.presentPositions(ctx)
}

func (g *GroupController) presentPositions(ctx context.Context) (map[int]int, error) {
	g.readPresentPos.Clear()
	for _, id := range g.order {
		if err := g.readPresentPos.Add(id); err != nil {
			return nil, fmt.Errorf("stage position read for motor %d: %w", id, err)
		}
	}
	if err := g.readPresentPos.Submit(ctx); err != nil {
		return nil, fmt.Errorf("sync read present positions: %w", err)
	}

	results := make(map[int]int, len(g.order))
	for _, id := range g.order {
		if !g.readPresentPos.Available(id) {
			g.logger.Warn("no position data", "id", id)
			continue
		}
		data, err := g.readPresentPos.Data(id)
		if err != nil {
			g.logger.Warn("no position data", "id", id, "err", err)
			continue
		}
		results[id] = DecodeBytes(data) - g.motors[id].Params.Offset
	}
	return results, nil
}

// PositionCurrentGoal pairs a goal position with a current limit for the
// combined two-phase write.
type PositionCurrentGoal struct {
	Position int // pulses
	Current  int // device units
}

// SetPositionCurrentGoals writes a goal current and a goal position for each
// motor. The two registers are not contiguous in the control table, so this
// is two sequential batched writes: currents first, then positions. There is
// no atomicity across them; a failure after the first transaction leaves
// current limits updated and positions untouched.
func (g *GroupController) SetPositionCurrentGoals(ctx context.Context, goals map[int]PositionCurrentGoal) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.checkActive(); err != nil {
		return err
	}

	currents := make(map[int]int, len(goals))
	for id, goal := range goals {
		currents[id] = goal.Current
	}
	if err := g.setGoalCurrents(ctx, currents); err != nil {
		return fmt.Errorf("set goal currents: %w", err)
	}

	positions := make(map[int]int, len(goals))
	for id, goal := range goals {
		positions[id] = goal.Position
	}
	if err := g.setGoalPositions(ctx, positions); err != nil {
		return fmt.Errorf("set goal positions: %w", err)
	}
	return nil
}

// RadianCurrentGoal pairs a goal position in radians with a current limit.
type RadianCurrentGoal struct {
	Radians float64
	Current int // device units
}

// SetPositionCurrentGoalsRadians is SetPositionCurrentGoals with goal
// positions in radians. Unknown ids are dropped here before conversion.
func (g *GroupController) SetPositionCurrentGoalsRadians(ctx context.Context, goals map[int]RadianCurrentGoal) error {
	converted := make(map[int]PositionCurrentGoal, len(goals))
	for id, goal := range goals {
		m, ok := g.motors[id]
		if !ok {
			g.logger.Warn("skipping unknown motor", "id", id, "op", "set_position_current_goals")
			continue
		}
		converted[id] = PositionCurrentGoal{
			Position: RadianToPulse(goal.Radians, m.Table().PulsePerRevolution),
			Current:  goal.Current,
		}
	}
	return g.SetPositionCurrentGoals(ctx, converted)
}

// SetGoalPositionsRadians batch-writes goal positions given in radians.
func (g *GroupController) SetGoalPositionsRadians(ctx context.Context, positions map[int]float64) error {
	converted := make(map[int]int, len(positions))
	for id, rad := range positions {
		m, ok := g.motors[id]
		if !ok {
			g.logger.Warn("skipping unknown motor", "id", id, "op", "set_goal_positions")
			continue
		}
		converted[id] = RadianToPulse(rad, m.Table().PulsePerRevolution)
	}
	return g.SetGoalPositions(ctx, converted)
}

// PresentPositionsRadians batch-reads present positions in radians.
func (g *GroupController) PresentPositionsRadians(ctx context.Context) (map[int]float64, error) {
	pulses, err := g.PresentPositions(ctx)
	if err != nil {
		return nil, err
	}
	results := make(map[int]float64, len(pulses))
	for id, pulse := range pulses {
		results[id] = PulseToRadian(pulse, g.motors[id].Table().PulsePerRevolution)
	}
	return results, nil
}

// WaitForPositions polls present positions until every motor named in goals
// is within threshold pulses of its goal, or ctx is done. threshold <= 0
// uses DefaultMovingThreshold. Motors absent from a partial read simply
// remain pending.
func (g *GroupController) WaitForPositions(ctx context.Context, goals map[int]int, threshold int) error {
	if threshold <= 0 {
		threshold = DefaultMovingThreshold
	}
	for id := range goals {
		if _, ok := g.motors[id]; !ok {
			return fmt.Errorf("%w: %d", ErrUnknownMotor, id)
		}
	}
	for {
		positions, err := g.PresentPositions(ctx)
		if err != nil {
			return err
		}
		settled := true
		for id, goal := range goals {
			pos, ok := positions[id]
			if !ok {
				settled = false
				break
			}
			if diff := pos - goal; diff < -threshold || diff > threshold {
				settled = false
				break
			}
		}
		if settled {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// Async variants. The exchange runs on its own goroutine so the caller can
// keep doing other work; the session lock still admits only one transaction
// to the bus at a time.

// SetGoalPositionsAsync is SetGoalPositions off the caller's goroutine. The
// result arrives on the returned channel.
func (g *GroupController) SetGoalPositionsAsync(ctx context.Context, positions map[int]int) <-chan error {
	errc := make(chan error, 1)
	go func() {
		errc <- g.SetGoalPositions(ctx, positions)
	}()
	return errc
}

// PositionsResult carries the outcome of an asynchronous batched read.
type PositionsResult struct {
	Positions map[int]int
	Err       error
}

// PresentPositionsAsync is PresentPositions off the caller's goroutine.
func (g *GroupController) PresentPositionsAsync(ctx context.Context) <-chan PositionsResult {
	resc := make(chan PositionsResult, 1)
	go func() {
		positions, err := g.PresentPositions(ctx)
		resc <- PositionsResult{Positions: positions, Err: err}
	}()
	return resc
}

// SetPositionCurrentGoalsAsync is SetPositionCurrentGoals off the caller's
// goroutine.
func (g *GroupController) SetPositionCurrentGoalsAsync(ctx context.Context, goals map[int]PositionCurrentGoal) <-chan error {
	errc := make(chan error, 1)
	go func() {
		errc <- g.SetPositionCurrentGoals(ctx, goals)
	}()
	return errc
}

// checkActive is called with the session lock held.
func (g *GroupController) checkActive() error {
	if g.state != stateActive {
		return ErrSessionClosed
	}
	return nil
}
