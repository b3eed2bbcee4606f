// Command importctl previews contact files from the terminal using the same
// pipeline as the import service.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Inspect contact import files",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}
	root.AddCommand(newPreviewCmd(), newTemplateCmd(), newHistoryCmd())
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "importctl: %v\n", err)
		os.Exit(1)
	}
}
