package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"timedsend/internal/app"
	"timedsend/internal/config"
)

type options struct {
	configPath string
	// configSet is true when --config was given explicitly; a missing
	// explicit file is an error.
	configSet bool
}

func (o *options) load() (config.Config, error) {
	return config.Load(o.configPath, o.configSet)
}

func (o *options) app(service string) (*app.App, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, err
	}
	return app.New(cfg, service)
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "timedsend",
		Short:         "Time-of-day message and poll scheduler",
		Long:          "Schedules messages and polls at a time of day and delivers them through the messaging driver.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			opts.configSet = cmd.Flags().Changed("config")
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", config.DefaultPath, "config file (yaml or json)")

	root.AddCommand(
		superviseCmd(opts),
		dispatchCmd(opts),
		serveCmd(opts),
		schedulesCmd(opts),
	)
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
