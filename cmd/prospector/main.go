package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"prospector/internal/config"
	"prospector/internal/logging"
)

var (
	// Global flags
	configPath string
	verbose    bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "prospector",
	Short: "prospector - plan-guided parallel entity discovery",
	Long: `prospector discovers entities matching a research topic by planning
with an LLM, fanning parallel workers out over web search and crawling,
merging observations into a deduplicated knowledge base, and verifying
every candidate against the topic's hard constraints.

Example:
  prospector run "CDK12 inhibitors in clinical development"`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		opts := logging.Options{
			Enabled:    cfg.Logging.Enabled || verbose,
			Categories: cfg.Logging.Categories,
			Level:      cfg.Logging.Level,
			JSONFormat: cfg.Logging.Format == "json",
		}
		if verbose {
			opts.Level = "debug"
		}
		if err := logging.Initialize(cfg.Logging.Dir, opts); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		logging.CloseAudit()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "prospector.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(exportCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
