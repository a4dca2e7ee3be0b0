package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/karibu-capital/greenscore-cli/internal/model"
)

var (
	submitOwner       string
	submitSector      string
	submitRegion      string
	submitType        string
	submitDescription string
	submitWait        bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit an evidence file for scoring",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		payload, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		ev, err := env.Pipeline.SubmitEvidence(ctx, model.Submission{
			OwnerID:     submitOwner,
			Sector:      submitSector,
			Region:      submitRegion,
			Type:        model.EvidenceType(submitType),
			Description: submitDescription,
			Payload:     payload,
		})
		if err != nil {
			return err
		}
		fmt.Printf("evidence %s %s\n", ev.ID, ev.State)

		if !submitWait {
			return nil
		}

		// Process inline instead of waiting for a worker.
		claimed, err := env.Store.ClaimQueued(ctx)
		if err != nil {
			return err
		}
		if claimed == nil || claimed.ID != ev.ID {
			return fmt.Errorf("evidence %s was claimed by another worker", ev.ID)
		}
		if err := env.Pipeline.Process(ctx, *claimed); err != nil {
			return err
		}

		final, err := env.Store.GetEvidence(ctx, ev.ID)
		if err != nil {
			return err
		}
		fmt.Printf("evidence %s %s\n", final.ID, final.State)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitOwner, "owner", "", "owner user id (required)")
	submitCmd.Flags().StringVar(&submitSector, "sector", "", "business sector (required)")
	submitCmd.Flags().StringVar(&submitRegion, "region", "", "business region (required)")
	submitCmd.Flags().StringVar(&submitType, "type", "receipt", "evidence type: receipt, photo, invoice, certificate, meter_reading")
	submitCmd.Flags().StringVar(&submitDescription, "description", "", "free-text description")
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "process the evidence inline and print the final state")
	_ = submitCmd.MarkFlagRequired("owner")
	_ = submitCmd.MarkFlagRequired("sector")
	_ = submitCmd.MarkFlagRequired("region")
	rootCmd.AddCommand(submitCmd)
}
