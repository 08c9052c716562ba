package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/hmaruyama/godxl/pkg/dxl"
	"github.com/hmaruyama/godxl/pkg/monitor"
	"github.com/hmaruyama/godxl/pkg/proto"
)

type MonitorCommand struct {
	Hz     int    `long:"hz" default:"30" description:"Sampling frequency"`
	Config string `long:"config" description:"Config file (default dxl.json)"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
)

// Chart colors cycle through this palette by motor order.
var chartColors = []string{
	"196", // red
	"208", // orange
	"226", // yellow
	"46",  // green
	"51",  // cyan
	"201", // magenta
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

type monitorModel struct {
	watcher       *monitor.Watcher
	chart         *streamlinechart.Model
	width         int      // terminal width
	height        int      // terminal height
	logs          []string // last N log messages
	quitting      bool
	lastPositions map[int]float64 // track previous positions to detect movement
}

func (m *monitorModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// hasMovement checks if any motor position has changed from the last state
func (m *monitorModel) hasMovement(positions map[int]float64) bool {
	if m.lastPositions == nil {
		return true // first reading, consider it movement
	}
	for id, pos := range positions {
		if lastPos, ok := m.lastPositions[id]; !ok || pos != lastPos {
			return true
		}
	}
	return false
}

// Messages from the watcher
type stateMsg monitor.State
type logMsg string

func waitForState(w *monitor.Watcher) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-w.States())
	}
}

func waitForLog(w *monitor.Watcher) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-w.Logs())
	}
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *monitorModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - legendHeight - footerHeight - borderSize
	if height < 10 {
		height = 10
	}
	return width, height
}

func (m *monitorModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialMonitorModel(w *monitor.Watcher) monitorModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-3.2, 3.2),
	)

	// Set up data set styles for each motor
	for i, id := range w.Motors() {
		color := chartColors[i%len(chartColors)]
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(color))
		chart.SetDataSetStyles(motorLabel(id), runes.ThinLineStyle, style)
	}

	return monitorModel{
		watcher: w,
		chart:   &chart,
	}
}

func motorLabel(id int) string {
	return fmt.Sprintf("motor %d", id)
}

func (m monitorModel) Init() tea.Cmd {
	// Start listening for state and log updates
	return tea.Batch(
		waitForState(m.watcher),
		waitForLog(m.watcher),
	)
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case stateMsg:
		state := monitor.State(msg)
		if state.Positions != nil {
			// Only update chart if there's movement (freeze when idle)
			if m.hasMovement(state.Positions) {
				for id, pos := range state.Positions {
					m.chart.PushDataSet(motorLabel(id), pos)
				}
				m.chart.DrawAll()
				m.lastPositions = state.Positions
			}
		}
		return m, waitForState(m.watcher)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.watcher)
	}

	return m, nil
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Monitoring stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Dynamixel Monitor"))
	sb.WriteString(fmt.Sprintf(" - %d Hz, radians", m.watcher.Hz()))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	// Chart
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	// Legend
	sb.WriteString(m.renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.width - 4).
		Foreground(lipgloss.Color("9")) // bright red

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render("Press 'q' to quit")
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m monitorModel) renderLegend() string {
	var items []string
	for i, id := range m.watcher.Motors() {
		color := chartColors[i%len(chartColors)]
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+motorLabel(id))
	}
	return strings.Join(items, "  ")
}

func (c *MonitorCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.Config)
	if err != nil {
		fmt.Fprintln(os.Stderr, "No configuration found. Run 'dxl scan' first.")
		os.Exit(1)
	}
	motors, err := cfg.BuildMotors()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	port := proto.NewPort(proto.PortConfig{
		Name:     cfg.Port,
		BaudRate: cfg.BaudRate,
	})
	watcher, err := monitor.NewWatcher(monitor.Config{
		Transport: port,
		Motors:    motors,
		BaudRate:  cfg.BaudRate,
		Hz:        c.Hz,
	})
	if err != nil {
		log.Fatalf("Failed to create watcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := watcher.Start(ctx); err != nil && err != context.Canceled {
			log.Printf("Watcher error: %v", err)
		}
	}()

	p := tea.NewProgram(initialMonitorModel(watcher), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	return nil
}

func loadConfig(path string) (*dxl.Config, error) {
	if path == "" {
		return dxl.LoadConfig()
	}
	return dxl.LoadConfigFrom(path)
}
