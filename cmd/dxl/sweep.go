package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hmaruyama/godxl/pkg/dxl"
	"github.com/hmaruyama/godxl/pkg/proto"
)

type SweepCommand struct {
	Amplitude int    `long:"amplitude" default:"300" description:"Sweep amplitude in pulses"`
	Cycles    int    `long:"cycles" default:"3" description:"Number of back-and-forth cycles"`
	Current   int    `long:"current" description:"Current limit in device units (0 = position only)"`
	Config    string `long:"config" description:"Config file (default dxl.json)"`
}

func (c *SweepCommand) Execute(args []string) error {
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

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	port := proto.NewPort(proto.PortConfig{
		Name:     cfg.Port,
		BaudRate: cfg.BaudRate,
	})
	group, err := dxl.NewGroupController(dxl.GroupConfig{
		Transport: port,
		Motors:    motors,
		BaudRate:  cfg.BaudRate,
		Logger:    logger,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := group.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bus: %v\n", err)
		os.Exit(1)
	}
	defer group.Close(context.Background())

	centers, err := group.PresentPositions(ctx)
	if err != nil {
		return fmt.Errorf("read start positions: %w", err)
	}
	for _, id := range group.Motors() {
		if _, ok := centers[id]; !ok {
			return fmt.Errorf("no start position for motor %d", id)
		}
	}

	fmt.Printf("Sweeping %d motor(s), amplitude %d pulses, %d cycle(s)\n",
		len(centers), c.Amplitude, c.Cycles)

	for cycle := range c.Cycles {
		for _, direction := range []int{1, -1} {
			goals := make(map[int]int, len(centers))
			for id, center := range centers {
				goals[id] = center + direction*c.Amplitude
			}
			if err := c.command(ctx, group, goals); err != nil {
				return err
			}
			if err := group.WaitForPositions(ctx, goals, 0); err != nil {
				return fmt.Errorf("cycle %d: %w", cycle+1, err)
			}
		}
		fmt.Printf("Cycle %d/%d done\n", cycle+1, c.Cycles)
	}

	// Return to the start positions before releasing.
	if err := c.command(ctx, group, centers); err != nil {
		return err
	}
	if err := group.WaitForPositions(ctx, centers, 0); err != nil {
		return fmt.Errorf("return to start: %w", err)
	}

	fmt.Println("Sweep complete.")
	return nil
}

func (c *SweepCommand) command(ctx context.Context, group *dxl.GroupController, goals map[int]int) error {
	if c.Current <= 0 {
		return group.SetGoalPositions(ctx, goals)
	}
	combined := make(map[int]dxl.PositionCurrentGoal, len(goals))
	for id, pos := range goals {
		combined[id] = dxl.PositionCurrentGoal{Position: pos, Current: c.Current}
	}
	return group.SetPositionCurrentGoals(ctx, combined)
}
