package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rileyhilliard/shipit/internal/controlplane"
	"github.com/rileyhilliard/shipit/internal/engine"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/logger"
	"github.com/rileyhilliard/shipit/internal/master"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/rileyhilliard/shipit/internal/ui"
	"github.com/rileyhilliard/shipit/internal/worker"
	"github.com/spf13/cobra"
)

type runFlags struct {
	scheduleFlags
	plan      bool
	overrides []string
}

func newRunCmd(a *app) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run <task> [selector]",
		Short: "Run a task on the selected hosts",
		Long: `Run a task, with its group members and hooks, on every host the
selector matches. Without a selector every host is used.

Examples:
  shipit run deploy
  shipit run deploy role=web
  shipit run deploy 'stage=prod & role=db' --limit 2
  shipit run deploy -o branch=hotfix --no-interaction`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args, f)
		},
	}

	flags := cmd.Flags()
	addScheduleFlags(cmd, &f.scheduleFlags)
	flags.BoolVar(&f.plan, "plan", false, "print the task x host plan instead of running")
	flags.StringArrayVarP(&f.overrides, "option", "o", nil, "set a configuration value (key=value), repeatable")
	flags.IntP("limit", "l", 0, "hosts per task at once (0 = all)")
	flags.Bool("in-process", false, "run workers as goroutines instead of subprocesses")
	flags.String("log", "", "copy all output to this file")
	flags.BoolP("no-interaction", "n", false, "answer every question with its default")
	bindFlags(a.v, flags, map[string]string{
		"limit":          "limit",
		"in_process":     "in-process",
		"log":            "log",
		"no_interaction": "no-interaction",
	})
	return cmd
}

func (a *app) run(cmd *cobra.Command, args []string, f *runFlags) error {
	root, selector := splitTarget(args)
	overrides, err := parseOverrides(f.overrides)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	e, err := a.newEngine(out, overrides)
	if err != nil {
		return err
	}
	defer e.Close()

	hosts, err := e.Hosts().Select(selectorExpr(selector))
	if err != nil {
		return err
	}
	if f.plan {
		return printPlan(out, e, root, hosts, f.scheduleFlags.options())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	opts := master.Options{
		Limit:    a.opts.Limit,
		Schedule: f.scheduleFlags.options(),
		Metrics:  master.NewMetrics(reg),
	}
	if a.opts.Log != "" {
		if opts.Log, err = master.OpenRunLog(a.opts.Log, root); err != nil {
			return err
		}
	}

	input := task.Input{Task: root, Selector: selector, Overrides: overrides}
	var launcher master.Launcher
	if a.opts.InProcess {
		launcher = &master.InProcess{Runtime: e, Input: input}
	} else {
		srv := controlplane.NewServer(reg, e.Logger())
		if err := srv.Start(); err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Close(closeCtx)
		}()

		recipePath, err := filepath.Abs(a.opts.Recipe)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, "Can't resolve recipe path", "")
		}
		launcher = &master.Subprocess{Request: worker.Request{
			ControlURL: srv.URL(),
			Recipe:     recipePath,
			RootTask:   root,
			Selector:   selector,
			Overrides:  overrides,
			Verbose:    logger.DebugEnabled(),
			Color:      workerColor(),
		}}
		opts.Requests = srv.Requests()
	}

	start := time.Now()
	code, err := master.New(e, launcher, out, opts).Run(ctx, root, hosts)
	if opts.Log != nil {
		if closeErr := opts.Log.Close(code); closeErr != nil {
			e.Logger().Warn("can't finish run log: %v", closeErr)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, ui.Summary(code, time.Since(start)))
	if code != errors.ExitOK {
		return errors.NewExitError(code)
	}
	return nil
}

// workerColor passes the master's resolved color profile on, since worker
// output is never a terminal.
func workerColor() string {
	if lipgloss.ColorProfile() == termenv.Ascii {
		return ui.ColorNever
	}
	return ui.ColorAlways
}

func printPlan(out io.Writer, e *engine.Engine, root string, hosts []*host.Host, schedule task.ScheduleOptions) error {
	plan, err := master.New(e, nil, out, master.Options{Schedule: schedule}).Plan(root, hosts)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, plan)
	return err
}
