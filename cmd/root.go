package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/leadfunnel/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "leadfunnel",
	Short: "Lead qualification funnel backend",
	Long: `Serves the training funnel: captures and screens leads, records progress
per session, and syncs each step to Brevo, Google Sheets and the Meta
Conversions API.

Configuration is read from ./config.yaml (or --config) and LEADFUNNEL_*
environment variables.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Root().PersistentFlags().GetString("config")
		c, err := config.LoadFrom(path)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		cfg = c

		if level, _ := cmd.Root().PersistentFlags().GetString("log-level"); level != "" {
			cfg.Log.Level = level
		}
		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},
	PersistentPostRun: func(_ *cobra.Command, _ []string) {
		_ = zap.L().Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to a YAML config file")
	rootCmd.PersistentFlags().String("log-level", "", "override log.level (debug, info, warn, error)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
