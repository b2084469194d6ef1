package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"timedsend/internal/supervisor"
)

func superviseCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "supervise",
		Short: "Run the driver and the dispatch engine, restarting them on failure",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.app("supervise")
			if err != nil {
				return err
			}
			defer a.Close()
			cfg := a.Config

			self, err := os.Executable()
			if err != nil {
				return fmt.Errorf("locate executable: %w", err)
			}
			dispatchArgs := []string{"dispatch"}
			if opts.configSet {
				dispatchArgs = append(dispatchArgs, "--config", opts.configPath)
			}

			var driverRunner supervisor.Runner = supervisor.ExternalRunner{}
			if len(cfg.Driver.Command) > 0 {
				driverRunner = supervisor.NewExecRunner("driver", supervisor.Command{
					Path: cfg.Driver.Command[0],
					Args: cfg.Driver.Command[1:],
					Dir:  cfg.Driver.Dir,
				}, a.Log)
			} else {
				a.Log.Info().Str("url", cfg.Driver.URL).Msg("no driver command; probing an externally managed driver")
			}
			dispatchRunner := supervisor.NewExecRunner("dispatch", supervisor.Command{
				Path: self,
				Args: dispatchArgs,
			}, a.Log)

			sup := supervisor.New(supervisor.Options{
				PollInterval: cfg.Supervisor.PollInterval.Std(),
				BaseBackoff:  cfg.Supervisor.BaseBackoff.Std(),
				MaxRestarts:  cfg.Supervisor.MaxRestarts,
				StopTimeout:  cfg.Supervisor.StopTimeout.Std(),
			}, a.Log,
				supervisor.Process{Name: "driver", Runner: driverRunner, Probe: a.Driver.Ping, Grace: cfg.Supervisor.DriverGrace.Std()},
				supervisor.Process{Name: "dispatch", Runner: dispatchRunner, Probe: supervisor.AliveProbe(dispatchRunner), Grace: cfg.Supervisor.DispatchGrace.Std()},
			)
			return sup.Run(cmd.Context())
		},
	}
}
