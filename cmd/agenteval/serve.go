package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agenteval/agenteval/pkg/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server and the worker in one process",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
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

	srv := api.NewServer(log, cfg, st)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting api server: %w", err)
	}

	w := newWorker(cfg, st)
	if err := w.Start(ctx); err != nil {
		_ = srv.Stop()

		return fmt.Errorf("starting worker: %w", err)
	}

	<-ctx.Done()
	log.Info("Shutting down")

	var g errgroup.Group

	g.Go(srv.Stop)
	g.Go(w.Stop)

	return g.Wait()
}
