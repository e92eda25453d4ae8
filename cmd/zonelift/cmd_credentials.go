// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zonelift/zonelift/internal/credstore"
	"github.com/zonelift/zonelift/internal/daemon"
)

var (
	flagService string
	flagAccount string
	flagAll     bool

	credentialsCmd = &cobra.Command{
		Use:   "credentials",
		Short: "Inspect and refresh service credentials",
	}

	credentialsCheckCmd = &cobra.Command{
		Use:   "check",
		Short: "Report credential status per service and account",
		RunE:  runCredentialsCheck,
	}

	credentialsRefreshCmd = &cobra.Command{
		Use:   "refresh",
		Short: "Force a fresh interactive login",
		RunE:  runCredentialsRefresh,
	}
)

func init() {
	credentialsCheckCmd.Flags().StringVar(&flagService, "service", "", "restrict to one service")
	credentialsCheckCmd.Flags().StringVar(&flagAccount, "account", "", "restrict to one account")
	credentialsRefreshCmd.Flags().StringVar(&flagService, "service", "", "service to refresh")
	credentialsRefreshCmd.Flags().StringVar(&flagAccount, "account", "", "account to refresh")
	credentialsRefreshCmd.Flags().BoolVar(&flagAll, "all", false, "refresh every configured pair")

	credentialsCmd.AddCommand(credentialsCheckCmd, credentialsRefreshCmd)
	rootCmd.AddCommand(credentialsCmd)
}

// statusExit maps a credential status to its documented exit code.
func statusExit(s credstore.Status) int {
	switch s {
	case credstore.StatusValid:
		return 0
	case credstore.StatusExpiringSoon:
		return 6
	case credstore.StatusExpired:
		return 7
	default:
		return 8
	}
}

// checkPairs expands the service/account flags against the configured
// policies. An unknown service is still checked under the default policy.
func checkPairs() [][2]string {
	var pairs [][2]string
	services := []string{flagService}
	if flagService == "" {
		services = services[:0]
		for name := range rt.Services {
			services = append(services, name)
		}
		sort.Strings(services)
	}
	for _, service := range services {
		accounts := rt.Policy(service).EffectiveAccounts()
		if flagAccount != "" {
			accounts = []string{flagAccount}
		}
		for _, account := range accounts {
			pairs = append(pairs, [2]string{service, account})
		}
	}
	return pairs
}

func runCredentialsCheck(_ *cobra.Command, _ []string) error {
	pairs := checkPairs()
	if len(pairs) == 0 {
		return exitWith(8, "no services configured and none named via --service")
	}

	store := credstore.New(rt.ProjectRoot)
	worst := 0
	for _, pair := range pairs {
		service, account := pair[0], pair[1]
		status := store.StatusFor(service, account, rt.Policy(service))
		fmt.Printf("%-20s %-12s %s\n", service, account, status)
		if code := statusExit(status); code > worst {
			worst = code
		}
	}
	if worst != 0 {
		return exitWith(worst, "")
	}
	return nil
}

func runCredentialsRefresh(cmd *cobra.Command, _ []string) error {
	if flagService == "" && !flagAll {
		return fmt.Errorf("either --service or --all is required")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := daemon.NewApp(rt)
	if err != nil {
		return err
	}
	defer app.Close()

	pairs := checkPairs()
	if len(pairs) == 0 {
		return exitWith(9, "nothing to refresh")
	}
	for _, pair := range pairs {
		service, account := pair[0], pair[1]
		if _, err := app.Sessions.Refresh(ctx, service, account); err != nil {
			return exitWith(9, "refresh %s/%s: %v", service, account, err)
		}
		fmt.Printf("%-20s %-12s refreshed\n", service, account)
	}
	return nil
}
