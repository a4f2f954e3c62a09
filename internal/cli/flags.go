package cli

import (
	"fmt"
	"strings"

	"github.com/rileyhilliard/shipit/internal/errors"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// scheduleFlags are shared by run and plan.
type scheduleFlags struct {
	StartFrom string
	NoHooks   bool
}

func addScheduleFlags(cmd *cobra.Command, f *scheduleFlags) {
	cmd.Flags().StringVar(&f.StartFrom, "start-from", "", "skip every scheduled task before this one")
	cmd.Flags().BoolVar(&f.NoHooks, "no-hooks", false, "ignore before and after hooks")
}

func (f scheduleFlags) options() task.ScheduleOptions {
	return task.ScheduleOptions{StartFrom: f.StartFrom, NoHooks: f.NoHooks}
}

// bindFlags binds option keys to flags of the same command.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}
}

// parseOverrides turns -o key=value pairs into a map.
func parseOverrides(pairs []string) (map[string]string, error) {
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("'%s' isn't a key=value pair", pair),
				"Pass options like -o branch=main")
		}
		out[key] = value
	}
	return out, nil
}

// splitTarget reads "<task> [selector]" arguments.
func splitTarget(args []string) (root, selector string) {
	root = args[0]
	if len(args) > 1 {
		selector = args[1]
	}
	return root, selector
}

// selectorExpr is the selector used when none is given.
func selectorExpr(selector string) string {
	if strings.TrimSpace(selector) == "" {
		return "all"
	}
	return selector
}
