package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage the funnel session store",
}

var sessionMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the session table for the configured driver",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("session"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		zap.L().Info("session store migrated", zap.String("driver", cfg.Session.Driver))
		fmt.Fprintf(cmd.OutOrStdout(), "session store ready (%s)\n", driverName())
		return nil
	},
}

var sessionPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete session records older than the configured TTL",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("session"); err != nil {
			return err
		}
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.Prune(cmd.Context())
		if err != nil {
			return eris.Wrap(err, "session prune")
		}
		zap.L().Info("session records pruned", zap.Int("removed", n))
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d expired session records\n", n)
		return nil
	},
}

func driverName() string {
	if cfg.Session.Driver == "" {
		return "memory"
	}
	return cfg.Session.Driver
}

func init() {
	sessionCmd.AddCommand(sessionMigrateCmd, sessionPruneCmd)
	rootCmd.AddCommand(sessionCmd)
}
