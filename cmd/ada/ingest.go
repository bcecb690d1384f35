package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newIngestCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <tenant-id>",
		Short: "Run a one-shot ingestion pass for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := buildApp(configPath)
			if err != nil {
				return err
			}
			defer a.close()

			stats, err := a.ingestor.SyncAll(context.Background(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ingested %d documents (%d emails, %d contacts, %d notes) over %d pages\n",
				stats.Total(), stats.Emails, stats.CRMContacts, stats.CRMNotes, stats.Pages)
			return nil
		},
	}
}
