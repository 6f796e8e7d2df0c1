// Command rxpdf serves the prescription document API and offers one-shot
// rendering from the command line.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "rxpdf",
		Short:        "Prescription PDF service",
		Long:         "Validates prescription forms and typesets them into PDF documents with an external compiler.",
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().String("config", "", "Path to a config file (yaml, json or toml)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRenderCmd())
	rootCmd.AddCommand(newAccessCodeCmd())
	return rootCmd
}
