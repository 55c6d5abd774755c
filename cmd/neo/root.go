package main

import (
	"io"
	"os"

	"neonetworker/internal/config"
	"neonetworker/internal/logging"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "neo",
		Short:         "Neo Networker CRM server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultPath := os.Getenv("CONFIG_PATH")
	if defaultPath == "" {
		defaultPath = "configs/config.yaml"
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultPath, "path to the YAML config file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newSetWebhookCmd(opts))
	return cmd
}

// load reads the config and builds the base logger. Error-level events are
// mirrored to Sentry once it is initialised.
func (o *rootOptions) load() (*config.Config, *zerolog.Logger, io.Closer, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	base, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := base.Hook(logging.SentryHook{})
	return cfg, &logger, closer, nil
}

func closeQuietly(c io.Closer) {
	if c != nil {
		_ = c.Close()
	}
}
