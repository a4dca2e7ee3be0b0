package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/karibu-capital/greenscore-cli/internal/queue"
)

var workerConcurrency int

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the evidence processing worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		return runWorkers(ctx, env)
	},
}

// runWorkers drains the evidence queue until the context is cancelled.
// Cancellation is a normal shutdown, not an error.
func runWorkers(ctx context.Context, env *pipelineEnv) error {
	wcfg := cfg.Worker
	if workerConcurrency > 0 {
		wcfg.Concurrency = workerConcurrency
	}

	w := queue.NewWorker(env.Store, env.Pipeline.Process, wcfg)
	zap.L().Info("worker pool starting", zap.Int("concurrency", wcfg.Concurrency))

	err := w.Run(ctx)
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 0, "worker goroutines (default from config)")
	rootCmd.AddCommand(workerCmd)
}
