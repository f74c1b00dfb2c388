package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NamanBalaji/hlsdm/internal/config"
	"github.com/NamanBalaji/hlsdm/internal/logger"
)

type rootOptions struct {
	configPath string
	debug      bool
}

// NewRootCmd builds the hlsdm command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "hlsdm",
		Short:         "Download HLS streams into single video files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default "+config.DefaultPath()+")")
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServeCmd(opts),
		newGetCmd(opts),
		newConfigCmd(opts),
		newTUICmd(opts),
	)

	return cmd
}

// Execute runs the root command with the process arguments.
func Execute() error {
	return NewRootCmd().Execute()
}

// setup loads the configuration and starts logging. The returned function
// closes the log file.
func (o *rootOptions) setup() (*config.Config, func(), error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}

	if o.debug {
		cfg.Log.Debug = true
	}

	if err := logger.InitLogging(cfg.Log.Debug, cfg.Log.Path); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	return cfg, logger.Close, nil
}
