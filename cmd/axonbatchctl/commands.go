package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"axonbatch/internal/config"
	"axonbatch/internal/protocol"
	"axonbatch/pkg/axonbatch"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				_ = json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]string{"version": version})
				return
			}
			fmt.Fprintf(cmd.OutOrStdout(), "axonbatchctl version %s\n", version)
		},
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().String("fibers", "", "Fiber file (JSON)")
	cmd.Flags().String("run-id", "", "Run id (default: generated uuid)")
	cmd.Flags().Float64("dt", 0, "Timestep in ms")
	cmd.Flags().Float64("threshold", 0, "Activation threshold in mV")
	cmd.Flags().Bool("vm", false, "Save membrane voltage traces")
	cmd.Flags().Bool("latency", false, "Save first AP latency")
	cmd.Flags().Bool("sfap", false, "Save sfAP window around the first AP")
}

func addSingleFiberFlags(cmd *cobra.Command) {
	addRunFlags(cmd)
	cmd.Flags().String("fiber", "", "Fiber id (default: the only fiber in the file)")
	cmd.Flags().Float64Slice("amps", nil, "Stimulus amplitudes in mA")
}

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run all fibers in shape-grouped batches and save per-fiber results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProtocol(cmd, config.ProtocolBatch)
		},
	}
	addRunFlags(cmd)
	return cmd
}

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one fiber at every amplitude and save all records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProtocol(cmd, config.ProtocolSweep)
		},
	}
	addSingleFiberFlags(cmd)
	return cmd
}

func newBlockCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "block",
		Short: "Find the first amplitude at which firing stops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProtocol(cmd, config.ProtocolBlock)
		},
	}
	addSingleFiberFlags(cmd)
	return cmd
}

func newThresholdCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "threshold",
		Short: "Find the activation threshold over --amps, or by bisection when --hi is set",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("hi") {
				return runProtocol(cmd, config.ProtocolBisect)
			}
			return runProtocol(cmd, config.ProtocolActivation)
		},
	}
	addSingleFiberFlags(cmd)
	cmd.Flags().Float64("lo", 0, "Bisection lower bound in mA (must not fire)")
	cmd.Flags().Float64("hi", 0, "Bisection upper bound in mA (must fire)")
	cmd.Flags().Float64("rel-tol", 0, "Bisection relative tolerance")
	return cmd
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the protocol named in the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProtocol(cmd, "")
		},
	}
	addSingleFiberFlags(cmd)
	return cmd
}

func runProtocol(cmd *cobra.Command, protocolKind string) error {
	a, err := newApp(cmd, protocolKind)
	if err != nil {
		return err
	}
	defer func() {
		_ = a.close()
	}()

	fibersPath, _ := cmd.Flags().GetString("fibers")
	fibers, err := loadFibers(fibersPath)
	if err != nil {
		return err
	}
	runID, _ := cmd.Flags().GetString("run-id")
	ctx := cmd.Context()

	var summary axonbatch.RunSummary
	if a.cfg.Protocol.Kind == config.ProtocolBatch {
		summary, err = a.client.RunBatch(ctx, axonbatch.BatchRequest{RunID: runID, Fibers: fibers, Settings: a.settings()})
		if err != nil {
			return err
		}
		return printSummary(cmd, summary)
	}

	fiberID, _ := cmd.Flags().GetString("fiber")
	fiber, err := pickFiber(fibers, fiberID)
	if err != nil {
		return err
	}
	proto := a.cfg.Protocol
	req := axonbatch.ThresholdRequest{
		RunID:      runID,
		Fiber:      fiber,
		Amplitudes: proto.Amplitudes,
		Lo:         proto.Lo,
		Hi:         proto.Hi,
		RelTol:     proto.RelTol,
		MaxIter:    proto.MaxIter,
		Settings:   a.settings(),
	}
	switch proto.Kind {
	case config.ProtocolSweep:
		summary, err = a.client.RunSweep(ctx, axonbatch.SweepRequest{RunID: runID, Fiber: fiber, Amplitudes: proto.Amplitudes, Settings: a.settings()})
	case config.ProtocolBlock:
		summary, err = a.client.RunBlockThreshold(ctx, req)
	case config.ProtocolActivation:
		summary, err = a.client.RunActivationThreshold(ctx, req)
	case config.ProtocolBisect:
		summary, err = a.client.RunBisectThreshold(ctx, req)
	}
	if err != nil {
		return err
	}
	return printSummary(cmd, summary)
}

func printSummary(cmd *cobra.Command, summary axonbatch.RunSummary) error {
	out := cmd.OutOrStdout()
	if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
		return json.NewEncoder(out).Encode(summary)
	}
	fmt.Fprintf(out, "run completed run_id=%s protocol=%s fibers=%d evaluations=%d\n",
		summary.RunID, summary.Protocol, len(summary.FiberIDs), summary.Evaluations)
	switch summary.Protocol {
	case axonbatch.ProtocolBatch, axonbatch.ProtocolSweep:
	default:
		if summary.Found {
			fmt.Fprintf(out, "threshold found=true amplitude=%s\n", summary.Label)
		} else {
			fmt.Fprintln(out, "threshold found=false")
		}
	}
	return nil
}

func newShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the saved arrays of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, config.ProtocolBatch)
			if err != nil {
				return err
			}
			defer func() {
				_ = a.close()
			}()

			runID, _ := cmd.Flags().GetString("run-id")
			latest, _ := cmd.Flags().GetBool("latest")
			results, err := a.client.Results(cmd.Context(), axonbatch.ResultsRequest{RunID: runID, Latest: latest})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(out).Encode(results)
			}
			for _, r := range results {
				total := 0
				for _, arr := range r.Arrays {
					total += len(arr.Values)
				}
				fmt.Fprintf(out, "run_id=%s fiber=%s arrays=%d values=%s\n", r.RunID, r.FiberID, len(r.Arrays), humanize.Comma(int64(total)))
				for _, arr := range r.Arrays {
					writeArray(out, arr.Name, arr.DType, arr.Shape, arr.Values)
				}
			}
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "Run id")
	cmd.Flags().Bool("latest", false, "Show the most recent run")
	return cmd
}

func writeArray(out io.Writer, name, dtype string, shape []int, values []float64) {
	if len(shape) == 0 && len(values) == 1 {
		fmt.Fprintf(out, "  %s dtype=%s value=%g\n", name, dtype, values[0])
		return
	}
	fmt.Fprintf(out, "  %s dtype=%s shape=%v\n", name, dtype, shape)
}

func newRunsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List saved runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, config.ProtocolBatch)
			if err != nil {
				return err
			}
			defer func() {
				_ = a.close()
			}()

			limit, _ := cmd.Flags().GetInt("limit")
			runs, err := a.client.Runs(cmd.Context(), axonbatch.RunsRequest{Limit: limit})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(out).Encode(runs)
			}
			for _, run := range runs {
				threshold := "-"
				if run.Amplitude != nil {
					threshold = protocol.Label(*run.Amplitude)
				}
				fmt.Fprintf(out, "run_id=%s created_at=%s protocol=%s fibers=%d evaluations=%d threshold=%s\n",
					run.ID, run.CreatedAtUTC, run.Protocol, len(run.FiberIDs), run.Evaluations, threshold)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 0, "Maximum runs to list (0 = all)")
	return cmd
}

func newExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a saved run into .npz archives",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, config.ProtocolBatch)
			if err != nil {
				return err
			}
			defer func() {
				_ = a.close()
			}()

			runID, _ := cmd.Flags().GetString("run-id")
			latest, _ := cmd.Flags().GetBool("latest")
			outDir, _ := cmd.Flags().GetString("out")
			summary, err := a.client.Export(cmd.Context(), axonbatch.ExportRequest{RunID: runID, Latest: latest, OutDir: outDir})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported run_id=%s fibers=%d directory=%s\n", summary.RunID, summary.Fibers, summary.Directory)
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "Run id")
	cmd.Flags().Bool("latest", false, "Export the most recent run")
	cmd.Flags().String("out", "exports", "Export root directory")
	return cmd
}
