package cli

import (
	"github.com/rileyhilliard/shipit/internal/controlplane"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/logger"
	"github.com/rileyhilliard/shipit/internal/master"
	"github.com/rileyhilliard/shipit/internal/ui"
	"github.com/rileyhilliard/shipit/internal/worker"
	"github.com/spf13/cobra"
)

// newWorkerCmd is the entry point of worker subprocesses. The spawn request
// comes from the environment, never from arguments.
func newWorkerCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:    master.WorkerCommand,
		Short:  "Run one task on one host for a master process",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := worker.RequestFromEnv()
			if err != nil {
				return err
			}
			if req.Color != "" {
				ui.SetColorMode(req.Color)
			}
			logger.SetVerbose(req.Verbose)

			ctx := cmd.Context()
			client := controlplane.NewClient(ctx, req.ControlURL).ForHost(req.Host)
			a.opts.Recipe = req.Recipe
			e, err := a.newEngine(cmd.OutOrStdout(), req.Overrides)
			if err != nil {
				return err
			}
			defer e.Close()
			e.SetPrompter(client)

			code := worker.Serve(ctx, req, e, client, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if code != errors.ExitOK {
				return errors.NewExitError(code)
			}
			return nil
		},
	}
}
