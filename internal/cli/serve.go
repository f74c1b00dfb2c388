package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/NamanBalaji/hlsdm/internal/api"
	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/logger"
	"github.com/NamanBalaji/hlsdm/internal/metrics"
	"github.com/NamanBalaji/hlsdm/internal/repository"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the download engine and its HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := root.setup()
			if err != nil {
				return err
			}
			defer closeLog()

			if listen != "" {
				cfg.API.Listen = listen
			}

			repo, err := repository.NewBboltRepository(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("error creating repository: %w", err)
			}

			eng, err := engine.New(cfg.ToEngine(), engine.WithStore(repo))
			if err != nil {
				_ = repo.Close()
				return err
			}

			if err := eng.Start(); err != nil {
				return err
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			metrics.Register(reg)

			srv := api.NewServer(cfg.API.Listen, eng, reg)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.ListenAndServe()
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "hlsdm listening on %s, saving to %s\n", cfg.API.Listen, cfg.Download.Dir)

			var serveErr error
			select {
			case <-ctx.Done():
				logger.Infof("Received shutdown signal")
			case serveErr = <-errCh:
				logger.Errorf("API server stopped: %v", serveErr)
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			// Engine first: open event streams only end once their channels close.
			if err := eng.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("Error during engine shutdown: %v", err)
			}

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Errorf("Error during API shutdown: %v", err)
			}

			return serveErr
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "API listen address (overrides api.listen)")

	return cmd
}
