// Command dhtsim is the simulator's single command-line entry point: it
// loads a configuration, runs one Chord or Kademlia simulation
// deterministically from a seed, and writes the resulting trace document
// to disk. Grounded on the teacher's cmd/chaos-runner/main.go root-command
// scaffold (persistent --config/--verbose flags, a single "run"
// subcommand, Cobra's Execute/os.Exit(1) error convention).
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "dhtsim",
	Short:   "Discrete-event simulator for Chord and Kademlia overlays",
	Long:    `dhtsim runs a deterministic, seeded discrete-event simulation of a structured peer-to-peer overlay (Chord or Kademlia) under churn, queueing, and network latency, and emits a structured JSON trace for downstream analysis.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional YAML config file overlaid on top of defaults (flags still win)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "shorthand for --loglevel debug")
	rootCmd.AddCommand(runCmd)
}

// Commands are defined in separate files:
// - runCmd in run.go

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
