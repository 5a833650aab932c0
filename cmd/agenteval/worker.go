package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agenteval/agenteval/pkg/config"
	"github.com/agenteval/agenteval/pkg/evaluator"
	"github.com/agenteval/agenteval/pkg/llm"
	"github.com/agenteval/agenteval/pkg/store"
	"github.com/agenteval/agenteval/pkg/worker"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Start the run-processing worker",
	Long: `Poll for pending evaluation runs and execute their result rows one at a
time against the configured model API.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false,
		"process all pending runs and exit")

	rootCmd.AddCommand(workerCmd)
}

// newWorker wires the model client, evaluator and worker.
func newWorker(cfg *config.Config, st store.Store) worker.Worker {
	remote := llm.NewOpenAIClient(log, &cfg.Model)
	client := llm.NewRouter(log, cfg.Model.SimulatorModel, remote)
	ev := evaluator.NewEvaluator(log, client, cfg.Model.PricePerToken)

	return worker.NewWorker(log, st, ev, cfg.Worker.PollInterval)
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	st, err := startStore(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Store stop error")
		}
	}()

	w := newWorker(cfg, st)

	if workerOnce {
		return drain(ctx, w)
	}

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down worker")

	return w.Stop()
}

// drain processes pending runs until none is left.
func drain(ctx context.Context, w worker.Worker) error {
	var runs int

	for {
		processed, err := w.ProcessOnce(ctx)
		if err != nil {
			return fmt.Errorf("processing run: %w", err)
		}

		if !processed {
			break
		}

		runs++
	}

	log.WithField("runs", runs).Info("No pending runs left")

	return nil
}
