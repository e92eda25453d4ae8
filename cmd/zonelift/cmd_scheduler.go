// SPDX-License-Identifier: MIT

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zonelift/zonelift/internal/daemon"
)

var (
	schedulerCmd = &cobra.Command{
		Use:   "scheduler",
		Short: "Long-running scheduling and monitoring",
	}

	schedulerDaemonCmd = &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler daemon with the configured triggers",
		RunE:  runSchedulerDaemon,
	}
)

func init() {
	schedulerCmd.AddCommand(schedulerDaemonCmd)
	rootCmd.AddCommand(schedulerCmd)
}

func runSchedulerDaemon(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := daemon.NewApp(rt)
	if err != nil {
		return err
	}
	// The daemon owns the app from here; its shutdown hooks close the stores.
	return daemon.New(app).Run(ctx)
}
