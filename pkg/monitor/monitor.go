// Package monitor samples motor positions without taking control of them.
// Torque is never enabled, so a monitored device stays freely movable.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hmaruyama/godxl/pkg/dxl"
)

// State is one sampling step: present positions in radians by motor id.
type State struct {
	Positions map[int]float64
	Timestamp time.Time
	Error     error
}

// Watcher runs the sampling loop and fans results out over channels.
type Watcher struct {
	transport dxl.Transport
	motors    map[int]*dxl.Motor
	order     []int
	reader    dxl.BatchReader
	baud      int
	hz        int

	mu      sync.Mutex
	running bool
	stateCh chan State
	logCh   chan string
}

// Config holds configuration for a Watcher.
type Config struct {
	// Transport is the bus to sample. Required.
	Transport dxl.Transport

	// Motors lists the devices to watch. Required, non-empty.
	Motors []*dxl.Motor

	// BaudRate for the session. Default is dxl.DefaultBaudRate.
	BaudRate int

	// Hz is the sampling frequency. Default 30.
	Hz int
}

// NewWatcher creates a watcher. No bus I/O happens until Start.
func NewWatcher(cfg Config) (*Watcher, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport must be specified")
	}
	if len(cfg.Motors) == 0 {
		return nil, fmt.Errorf("motor set cannot be empty")
	}
	if cfg.BaudRate == 0 {
		cfg.BaudRate = dxl.DefaultBaudRate
	}
	if cfg.Hz <= 0 {
		cfg.Hz = 30
	}

	motors := make(map[int]*dxl.Motor, len(cfg.Motors))
	order := make([]int, 0, len(cfg.Motors))
	for _, m := range cfg.Motors {
		if _, dup := motors[m.ID]; dup {
			return nil, fmt.Errorf("duplicate motor id %d", m.ID)
		}
		motors[m.ID] = m
		order = append(order, m.ID)
	}

	posReg := cfg.Motors[0].Table().Register(dxl.RegPresentPosition)

	return &Watcher{
		transport: cfg.Transport,
		motors:    motors,
		order:     order,
		reader:    cfg.Transport.SyncReader(posReg.Address, posReg.Width),
		baud:      cfg.BaudRate,
		hz:        cfg.Hz,
		stateCh:   make(chan State, 1),
		logCh:     make(chan string, 10),
	}, nil
}

// States returns a channel that receives sampling updates.
func (w *Watcher) States() <-chan State {
	return w.stateCh
}

// Logs returns a channel that receives log messages.
func (w *Watcher) Logs() <-chan string {
	return w.logCh
}

// Hz returns the sampling frequency.
func (w *Watcher) Hz() int {
	return w.hz
}

// Motors returns the watched motor ids in registration order.
func (w *Watcher) Motors() []int {
	ids := make([]int, len(w.order))
	copy(ids, w.order)
	return ids
}

func (w *Watcher) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case w.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start opens the port and runs the sampling loop until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("already running")
	}
	w.running = true
	w.mu.Unlock()

	if err := w.transport.Open(); err != nil {
		w.setRunning(false)
		return fmt.Errorf("open port: %w", err)
	}
	if err := w.transport.SetBaudRate(w.baud); err != nil {
		w.transport.Close()
		w.setRunning(false)
		return fmt.Errorf("set baud rate %d: %w", w.baud, err)
	}
	w.log("Watching %d motor(s) at %d Hz", len(w.motors), w.hz)

	ticker := time.NewTicker(time.Second / time.Duration(w.hz))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return ctx.Err()
		case <-ticker.C:
			w.step(ctx)
		}
	}
}

func (w *Watcher) step(ctx context.Context) {
	w.reader.Clear()
	for _, id := range w.order {
		if err := w.reader.Add(id); err != nil {
			w.log("Stage error: %v", err)
			return
		}
	}
	if err := w.reader.Submit(ctx); err != nil {
		w.log("Read error: %v", err)
		w.sendState(State{Error: err, Timestamp: time.Now()})
		return
	}

	positions := make(map[int]float64, len(w.order))
	for _, id := range w.order {
		if !w.reader.Available(id) {
			continue
		}
		data, err := w.reader.Data(id)
		if err != nil {
			continue
		}
		m := w.motors[id]
		pulse := dxl.DecodeBytes(data) - m.Params.Offset
		positions[id] = dxl.PulseToRadian(pulse, m.Table().PulsePerRevolution)
	}

	w.sendState(State{
		Positions: positions,
		Timestamp: time.Now(),
	})
}

func (w *Watcher) setRunning(running bool) {
	w.mu.Lock()
	w.running = running
	w.mu.Unlock()
}

func (w *Watcher) sendState(s State) {
	select {
	case w.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-w.stateCh:
		default:
		}
		w.stateCh <- s
	}
}

func (w *Watcher) shutdown() {
	w.setRunning(false)

	if err := w.transport.Close(); err != nil {
		w.log("Warning: failed to close port: %v", err)
	}
	w.log("Monitoring stopped")
}

// Close releases the port if the loop is not running.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("still running")
	}
	return w.transport.Close()
}
