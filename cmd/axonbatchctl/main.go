package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "axonbatchctl",
		Short: "Batched axon surrogate runs with per-fiber extraction",
		Long: `axonbatchctl runs fiber stimuli through a neural surrogate in shape-grouped
batches, extracts activation counts, voltage traces, latencies and sfAP
waveforms per fiber, searches activation and block thresholds, and saves
every fiber's results as a compressed NumPy archive.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().String("config", "", "Run configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().String("store", "", "Store backend: memory|archive|sqlite")
	rootCmd.PersistentFlags().String("store-path", "", "Archive root directory or sqlite database file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level: info|debug|trace")
	rootCmd.PersistentFlags().String("trace-dir", "", "Directory for invocations.jsonl at debug level and above")
	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(
		newVersionCmd(),
		newBatchCmd(),
		newSweepCmd(),
		newBlockCmd(),
		newThresholdCmd(),
		newRunCmd(),
		newShowCmd(),
		newRunsCmd(),
		newExportCmd(),
	)
	return rootCmd
}
