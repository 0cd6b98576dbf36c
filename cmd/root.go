package cmd

import (
	"github.com/joho/godotenv"
	logger "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var (
	// Global flags
	configPath string
	verbose    bool
)

//nolint:gochecknoglobals // required by cobra CLI pattern
var rootCmd = &cobra.Command{
	Use:   "gradefetch",
	Short: "Resolve and stage student GitHub submissions for grading",
	Long: `A CLI tool that turns loosely-formatted GitHub submission URLs into
normalized, compilable per-student staging directories.

For each student in a roster it:
- Normalizes the submitted URL (blob, raw, tree, or repository root)
- Resolves a concrete commit, optionally honoring a submission cutoff
- Stages all C sources/headers in scope under the student's directory
- Disambiguates the entry point and writes sidecar metadata for the
  downstream grading harness`,
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		// Best effort; a missing .env is the normal case.
		_ = godotenv.Load()

		if verbose {
			logger.SetLevel(logger.DebugLevel)
		}
	},
}

func Execute() error {
	return rootCmd.Execute()
}

//nolint:gochecknoinits // required by cobra CLI pattern
func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: discovered gradefetch.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
}
