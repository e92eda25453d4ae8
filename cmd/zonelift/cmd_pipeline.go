// SPDX-License-Identifier: MIT

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zonelift/zonelift/internal/credstore"
	"github.com/zonelift/zonelift/internal/daemon"
	"github.com/zonelift/zonelift/internal/healthmon"
	"github.com/zonelift/zonelift/internal/orchestrator"
	"github.com/zonelift/zonelift/internal/runlog"
	"github.com/zonelift/zonelift/internal/scheduler"
	"github.com/zonelift/zonelift/internal/zone"
)

var (
	flagServices     []string
	flagNoExtractors bool
	flagJSON         bool

	pipelineCmd = &cobra.Command{
		Use:   "pipeline",
		Short: "Run the pipeline or inspect its health",
	}

	pipelineRunCmd = &cobra.Command{
		Use:   "run",
		Short: "Execute one orchestration pass",
		RunE:  runPipelineRun,
	}

	pipelineStatusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show the latest health snapshot",
		RunE:  runPipelineStatus,
	}
)

func init() {
	pipelineRunCmd.Flags().StringSliceVar(&flagServices, "services", nil, "restrict the pass to these services")
	pipelineRunCmd.Flags().BoolVar(&flagNoExtractors, "no-extractors", false, "promote existing landing data without harvesting")
	pipelineStatusCmd.Flags().BoolVar(&flagJSON, "json", false, "emit the snapshot as JSON")

	pipelineCmd.AddCommand(pipelineRunCmd, pipelineStatusCmd)
	rootCmd.AddCommand(pipelineCmd)
}

func runPipelineRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lock := scheduler.NewRunLock(rt.ProjectRoot)
	if err := lock.Acquire(); err != nil {
		if errors.Is(err, scheduler.ErrAlreadyRunning) {
			return exitWith(1, "another orchestration pass is already running")
		}
		return err
	}
	defer lock.Release()

	app, err := daemon.NewApp(rt)
	if err != nil {
		return err
	}
	defer app.Close()

	run, err := app.Orch.Run(ctx, orchestrator.Request{
		Trigger:        "manual",
		Services:       flagServices,
		SkipExtractors: flagNoExtractors,
	})
	if err != nil {
		return err
	}

	for _, sr := range run.Services {
		fmt.Printf("%-20s %-8s promoted=%d skipped=%d quarantined=%d failed=%d\n",
			sr.Service, sr.Outcome, sr.Promoted, sr.Skipped, sr.Quarantined, sr.Failed)
	}
	switch run.Outcome {
	case runlog.OutcomeSuccess:
		return nil
	case runlog.OutcomePartial:
		return exitWith(2, "run %s finished with partial failures", run.ID)
	default:
		return exitWith(3, "run %s failed for every service", run.ID)
	}
}

// runPipelineStatus prefers the daemon's persisted snapshot and falls back to
// a fresh check when none exists.
func runPipelineStatus(cmd *cobra.Command, _ []string) error {
	snap, err := healthmon.Latest(rt.ProjectRoot)
	if err != nil {
		return err
	}
	if snap == nil {
		monitor := healthmon.New(rt, zone.NewLayout(rt.ProjectRoot), credstore.New(rt.ProjectRoot))
		fresh, err := monitor.Check(cmd.Context())
		if err != nil {
			return err
		}
		snap = &fresh
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snap); err != nil {
			return err
		}
	} else {
		printSnapshot(snap)
	}

	switch snap.Overall {
	case healthmon.StatusCritical:
		return exitWith(4, "")
	case healthmon.StatusFailed:
		return exitWith(5, "")
	default:
		return nil
	}
}

func printSnapshot(snap *healthmon.Snapshot) {
	fmt.Printf("overall: %s (checked %s)\n", snap.Overall, snap.TakenAt.Format("2006-01-02 15:04:05"))
	for _, sh := range snap.Services {
		fmt.Printf("  %-20s %-8s score=%.0f\n", sh.Service, sh.Status, sh.HealthScore)
		for _, b := range sh.Bottlenecks {
			fmt.Printf("    bottleneck: %s\n", b)
		}
	}
	for _, action := range snap.Actions {
		fmt.Printf("  action [%s] %s %s: %s\n", action.Priority, action.Type, action.Service, action.Reason)
	}
}
