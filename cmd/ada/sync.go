package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one poll cycle for all registered tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := buildPoller(a).RunCycle(context.Background()); err != nil {
				return err
			}
			fmt.Println("poll cycle complete")
			return nil
		},
	}
}
