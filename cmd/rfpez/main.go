// rfpez is the terminal client for the procurement chat backend.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var serverURL string

	root := &cobra.Command{
		Use:   "rfpez",
		Short: "Procurement chat client",
		Long:  "Interactive terminal client for the RFPEZ backend.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(NewClient(serverURL))
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "backend base URL")

	sessionsCmd := &cobra.Command{
		Use:   "sessions",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listSessions(NewClient(serverURL))
		},
	}
	proposalsCmd := &cobra.Command{
		Use:   "proposals",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listProposals(NewClient(serverURL))
		},
	}
	root.AddCommand(sessionsCmd, proposalsCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
