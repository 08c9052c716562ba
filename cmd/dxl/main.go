package main

import (
	"os"

	"github.com/jessevdk/go-flags"
)

type Options struct {
	Scan    ScanCommand    `command:"scan" description:"Scan a serial bus for motors and write a config"`
	Monitor MonitorCommand `command:"monitor" alias:"mon" description:"Live position chart for the configured motors (torque stays off)"`
	Sweep   SweepCommand   `command:"sweep" description:"Sweep the configured motors through a position cycle"`
}

var opts Options
var parser = flags.NewParser(&opts, flags.Default)

func main() {
	parser.LongDescription = "dxl - Dynamixel motor group control CLI"

	_, err := parser.Parse()
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
		}
		os.Exit(1)
	}
}
