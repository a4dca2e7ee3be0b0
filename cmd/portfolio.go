package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/karibu-capital/greenscore-cli/internal/export"
)

var portfolioXLSXPath string

var portfolioCmd = &cobra.Command{
	Use:   "portfolio <user-id>",
	Short: "Show a user's carbon credit portfolio",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		pf, err := env.Pipeline.Portfolio(ctx, args[0])
		if err != nil {
			return err
		}

		if portfolioXLSXPath != "" {
			records, err := env.Store.ListCredits(ctx, args[0])
			if err != nil {
				return err
			}
			if err := export.WritePortfolioXLSX(portfolioXLSXPath, pf, records); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", portfolioXLSXPath)
			return nil
		}
		return json.NewEncoder(os.Stdout).Encode(pf)
	},
}

var scoreCmd = &cobra.Command{
	Use:   "score <user-id>",
	Short: "Show a user's current GreenScore",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Pipeline.CurrentScore(ctx, args[0])
		if err != nil {
			return err
		}
		if snap == nil {
			fmt.Println("no score yet")
			return nil
		}
		return json.NewEncoder(os.Stdout).Encode(snap)
	},
}

func init() {
	portfolioCmd.Flags().StringVar(&portfolioXLSXPath, "xlsx", "", "write the portfolio to an XLSX file instead of stdout")
	rootCmd.AddCommand(portfolioCmd, scoreCmd)
}
