package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ignite/contact-import/internal/spreadsheet"
)

func newTemplateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "template [out]",
		Short: "Write the canonical import template workbook",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := spreadsheet.TemplateFileName
			if len(args) == 1 {
				path = args[0]
			}
			f, err := os.Create(path)
			if err != nil {
				return err
			}
			if err := spreadsheet.WriteTemplate(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}
