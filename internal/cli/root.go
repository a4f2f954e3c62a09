package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rileyhilliard/shipit/internal/config"
	"github.com/rileyhilliard/shipit/internal/engine"
	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/logger"
	"github.com/rileyhilliard/shipit/internal/recipe"
	"github.com/rileyhilliard/shipit/internal/ui"
	"github.com/rileyhilliard/shipit/pkg/sshutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app is the state shared by the commands of one invocation.
type app struct {
	v          *viper.Viper
	configFile string
	verbose    bool
	noColor    bool
	opts       *config.Options
	stdin      *os.File
}

// NewRootCmd builds the shipit command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: config.NewViper(), stdin: os.Stdin}

	root := &cobra.Command{
		Use:   "shipit",
		Short: "Run deployment tasks on many hosts at once",
		Long: `shipit runs the tasks of a YAML recipe on a set of SSH hosts.

Each task runs on all selected hosts in parallel, one worker per host,
before the next task starts. The first failing host's exit code is the
exit code of the run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadOptions()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "options file (default: nearest .shipit.yaml)")
	pf.StringP("recipe", "f", config.DefaultRecipeFile, "recipe file")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "print debug output")
	pf.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	_ = a.v.BindPFlag("recipe", pf.Lookup("recipe"))

	root.AddCommand(
		newRunCmd(a),
		newPlanCmd(a),
		newListCmd(a),
		newWorkerCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and exits with the run's code.
func Execute() {
	err := NewRootCmd().Execute()
	sshutil.CloseAgent()
	if err == nil {
		return
	}
	if code, ok := errors.GetExitCode(err); ok {
		os.Exit(code)
	}
	fmt.Fprintln(os.Stderr, strings.TrimRight(err.Error(), "\n"))
	os.Exit(errors.ExitGeneric)
}

func (a *app) loadOptions() error {
	path, err := config.Find(a.configFile)
	if err != nil {
		return err
	}
	opts, err := config.Load(a.v, path)
	if err != nil {
		return err
	}
	if a.noColor {
		opts.Color = ui.ColorNever
	}
	ui.SetColorMode(opts.Color)
	logger.SetVerbose(a.verbose)
	a.opts = opts
	return nil
}

// newEngine builds an engine from the loaded options and recipe.
func (a *app) newEngine(out io.Writer, overrides map[string]string) (*engine.Engine, error) {
	e := engine.New(a.opts, logger.Default())
	if err := recipe.Load(a.opts.Recipe, e); err != nil {
		_ = e.Close()
		return nil, err
	}
	e.Override(overrides)
	e.SetOutput(out)
	if a.opts.NoInteraction || !ui.IsTerminal(a.stdin) {
		e.SetPrompter(ui.DefaultPrompter{})
	} else {
		e.SetPrompter(ui.NewFormPrompter())
	}
	return e, nil
}
