package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/karibu-capital/greenscore-cli/internal/model"
	"github.com/karibu-capital/greenscore-cli/internal/pipeline"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Inspect and decide review cases",
}

var reviewListReason string

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending review cases",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		queue, err := env.Pipeline.ListReviewQueue(ctx, model.ReviewFilter{
			Decision: model.ReviewPending,
			Reason:   model.ReviewReason(reviewListReason),
		})
		if err != nil {
			return err
		}

		for reason, n := range queue.Counts {
			fmt.Printf("%-18s %d\n", reason, n)
		}
		for _, rc := range queue.Cases {
			fmt.Printf("%s  evidence=%s user=%s reason=%s opened=%s\n",
				rc.ID, rc.EvidenceID, rc.UserID, rc.Reason, rc.OpenedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

var (
	reviewDecideReviewer string
	reviewDecideNotes    string
	reviewDecideAdjusted string
	reviewDecideForce    bool
)

var reviewDecideCmd = &cobra.Command{
	Use:   "decide <case-id> <approved|adjusted|rejected>",
	Short: "Record a reviewer decision",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		in := pipeline.ReviewInput{
			Decision:   model.ReviewDecision(args[1]),
			ReviewerID: reviewDecideReviewer,
			Notes:      reviewDecideNotes,
			Force:      reviewDecideForce,
		}
		if reviewDecideAdjusted != "" {
			var subs model.Subscores
			if err := json.Unmarshal([]byte(reviewDecideAdjusted), &subs); err != nil {
				return fmt.Errorf("parse --adjusted: %w", err)
			}
			in.Adjusted = &subs
		}

		rc, err := env.Pipeline.DecideReview(ctx, args[0], in)
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(rc)
	},
}

func init() {
	reviewListCmd.Flags().StringVar(&reviewListReason, "reason", "", "filter by reason")

	reviewDecideCmd.Flags().StringVar(&reviewDecideReviewer, "reviewer", "", "reviewer id (required)")
	reviewDecideCmd.Flags().StringVar(&reviewDecideNotes, "notes", "", "decision notes")
	reviewDecideCmd.Flags().StringVar(&reviewDecideAdjusted, "adjusted", "", `adjusted subscores as JSON, e.g. {"renewable_energy":50}`)
	reviewDecideCmd.Flags().BoolVar(&reviewDecideForce, "force", false, "administrative override")
	_ = reviewDecideCmd.MarkFlagRequired("reviewer")

	reviewCmd.AddCommand(reviewListCmd, reviewDecideCmd)
	rootCmd.AddCommand(reviewCmd)
}
