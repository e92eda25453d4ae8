// SPDX-License-Identifier: MIT

// zonelift is the pipeline CLI: one-shot runs, health inspection, credential
// management, and the scheduler daemon.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zonelift/zonelift/internal/config"
	"github.com/zonelift/zonelift/internal/log"
	"github.com/zonelift/zonelift/internal/version"
)

var (
	flagRoot string

	rt config.Runtime

	rootCmd = &cobra.Command{
		Use:           "zonelift",
		Short:         "Multi-source ingestion and zone promotion pipeline",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if flagRoot != "" {
				rt, err = config.LoadFrom(flagRoot)
			} else {
				rt, err = config.Load()
			}
			if err != nil {
				return err
			}
			log.Configure(log.Config{Level: rt.LogLevel})
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "project root (defaults to PROJECT_ROOT)")
}

// exitError carries a command's documented exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func exitWith(code int, format string, args ...any) error {
	return &exitError{code: code, msg: fmt.Sprintf(format, args...)}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
