package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ibpm",
	Short: "Clinical job progress server and tooling",
	Long: `ibpm runs the background-job progress service: bulk clinical-note
uploads, dataset pre-processing/extraction and symptom-library generation,
with push and poll surfaces for observing progress.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
