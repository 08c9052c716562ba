package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"go.bug.st/serial"

	"github.com/hmaruyama/godxl/pkg/dxl"
	"github.com/hmaruyama/godxl/pkg/proto"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Model numbers reported by ping, per series.
var modelNames = map[int]string{
	1020: "XM430-W350",
	1030: "XM430-W210",
	1120: "XM540-W270",
	1130: "XM540-W150",
	1190: "XL330-M077",
	1200: "XL330-M288",
}

var modelSeries = map[int]dxl.Series{
	1020: dxl.SeriesXM430,
	1030: dxl.SeriesXM430,
	1120: dxl.SeriesXM540,
	1130: dxl.SeriesXM540,
	1190: dxl.SeriesXL330,
	1200: dxl.SeriesXL330,
}

type ScanCommand struct {
	Baud  int `long:"baud" default:"57600" description:"Baud rate to scan at"`
	MaxID int `long:"max-id" default:"20" description:"Highest motor id to probe"`
}

type foundMotor struct {
	id    int
	model int
}

func (c *ScanCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("Dynamixel Scan"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	portName, err := choosePort()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	found, err := scanPort(portName, c.Baud, c.MaxID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error scanning %s: %v\n", portName, err)
		os.Exit(1)
	}
	if len(found) == 0 {
		fmt.Printf("No motors found on %s at %d baud.\n", portName, c.Baud)
		fmt.Println("Make sure the bus is powered and the baud rate matches.")
		os.Exit(1)
	}

	fmt.Println(successStyle.Render(fmt.Sprintf("Found %d motor(s):", len(found))))
	fmt.Println(renderFoundTable(found))
	fmt.Println()

	cfg := buildConfig(portName, c.Baud, found)

	save := true
	confirm := huh.NewConfirm().
		Title(fmt.Sprintf("Save configuration to %s?", dxl.DefaultConfigFile)).
		Value(&save)
	if err := confirm.Run(); err != nil || !save {
		return nil
	}
	if err := cfg.Save(); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println(successStyle.Render("Scan complete!"))
	fmt.Printf("Configuration saved to %s\n", dxl.DefaultConfigFile)
	fmt.Println()
	fmt.Println("Watch the motors with: " + headerStyle.Render("dxl monitor"))
	return nil
}

func choosePort() (string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return "", fmt.Errorf("list ports: %w", err)
	}

	var candidates []string
	for _, p := range ports {
		// Skip Bluetooth ports on macOS
		if strings.Contains(p, "Bluetooth") {
			continue
		}
		candidates = append(candidates, p)
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("no serial ports found")
	}
	if len(candidates) == 1 {
		fmt.Printf("Using port %s\n", candidates[0])
		return candidates[0], nil
	}

	var selected string
	sel := huh.NewSelect[string]().
		Title("Select serial port").
		Options(huh.NewOptions(candidates...)...).
		Value(&selected)
	if err := sel.Run(); err != nil {
		return "", err
	}
	return selected, nil
}

func scanPort(name string, baud, maxID int) ([]foundMotor, error) {
	port := proto.NewPort(proto.PortConfig{
		Name:     name,
		BaudRate: baud,
		Timeout:  50 * time.Millisecond,
	})
	if err := port.Open(); err != nil {
		return nil, err
	}
	defer port.Close()

	fmt.Printf("Probing ids 1-%d on %s...\n\n", maxID, name)

	ctx := context.Background()
	var found []foundMotor
	for id := 1; id <= maxID; id++ {
		model, err := port.Ping(ctx, id)
		if err != nil {
			continue
		}
		found = append(found, foundMotor{id: id, model: model})
	}
	return found, nil
}

func renderFoundTable(found []foundMotor) string {
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("ID", "Model", "Series")
	for _, m := range found {
		name := modelNames[m.model]
		if name == "" {
			name = fmt.Sprintf("unknown (%d)", m.model)
		}
		series := string(modelSeries[m.model])
		if series == "" {
			series = "-"
		}
		t.Row(fmt.Sprintf("%d", m.id), name, series)
	}
	return t.Render()
}

func buildConfig(port string, baud int, found []foundMotor) *dxl.Config {
	cfg := &dxl.Config{
		Port:     port,
		BaudRate: baud,
	}
	for _, m := range found {
		series, ok := modelSeries[m.model]
		if !ok {
			// An unrecognized model still gets an entry; the shared
			// X-series register layout applies either way.
			series = dxl.SeriesXM430
		}
		cfg.Motors = append(cfg.Motors, dxl.MotorConfig{
			ID:     m.id,
			Series: series,
			Mode:   dxl.ModePosition,
		})
	}
	return cfg
}
