package main

import (
	"fmt"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ignite/contact-import/internal/config"
	"github.com/ignite/contact-import/internal/storage"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent commits recorded by the import service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			store, err := storage.New(cmd.Context(), cfg.Storage)
			if err != nil {
				return err
			}
			records, err := store.RecentCommits(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(records) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no commits recorded")
				return nil
			}

			table := tablewriter.NewWriter(cmd.OutOrStdout())
			table.SetHeader([]string{"Committed", "File", "Rows", "Submitted", "Created", "Failed"})
			for _, r := range records {
				table.Append([]string{
					r.CommittedAt.Format("2006-01-02 15:04:05"),
					r.FileName,
					strconv.Itoa(r.TotalRows),
					strconv.Itoa(r.Submitted),
					strconv.Itoa(r.SuccessCount),
					strconv.Itoa(r.FailedCount),
				})
			}
			table.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "config/config.yaml", "path to the YAML config file")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum commits to list")
	return cmd
}
