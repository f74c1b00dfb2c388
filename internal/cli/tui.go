package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/hlsdm/internal/engine"
	"github.com/NamanBalaji/hlsdm/internal/logger"
	"github.com/NamanBalaji/hlsdm/internal/repository"
	"github.com/NamanBalaji/hlsdm/internal/tui"
)

func newTUICmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Manage downloads from an interactive terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closeLog, err := root.setup()
			if err != nil {
				return err
			}
			defer closeLog()

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

			runErr := tui.Run(eng)

			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := eng.Shutdown(ctx); err != nil {
				logger.Errorf("Error during engine shutdown: %v", err)
			}

			return runErr
		},
	}
}
