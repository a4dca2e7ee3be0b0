package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/karibu-capital/greenscore-cli/internal/baseline"
)

var baselineSyncCmd = &cobra.Command{
	Use:   "baseline-sync",
	Short: "Download the published baseline factor dataset",
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := baseline.NewSyncer(cfg.Baseline).Sync(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("synced %d baseline entries to %s\n", n, cfg.Baseline.Path)
		return nil
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(baselineSyncCmd, migrateCmd)
}
