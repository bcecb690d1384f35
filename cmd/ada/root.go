package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Set via -ldflags at build time.
var (
	version = "dev"
	commit  = "unknown"
)

var configPath string

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "ada",
		Short: "Multi-tenant assistant service",
		Long: "ada runs the assistant orchestration service: a chat API backed by a\n" +
			"reasoning loop, durable waiting tasks, a per-tenant retrieval index and\n" +
			"a background poller that resumes tasks when external replies arrive.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ./ada.yaml)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newSyncCommand())
	root.AddCommand(newIngestCommand())
	root.AddCommand(newVersionCommand())
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ada %s (%s)\n", version, commit)
		},
	}
}
