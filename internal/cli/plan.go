package cli

import (
	"fmt"

	"github.com/rileyhilliard/shipit/internal/ui"
	"github.com/spf13/cobra"
)

func newPlanCmd(a *app) *cobra.Command {
	f := &scheduleFlags{}
	cmd := &cobra.Command{
		Use:   "plan <task> [selector]",
		Short: "Show which tasks would run on which hosts",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, selector := splitTarget(args)
			out := cmd.OutOrStdout()
			e, err := a.newEngine(out, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			hosts, err := e.Hosts().Select(selectorExpr(selector))
			if err != nil {
				return err
			}
			return printPlan(out, e, root, hosts, f.options())
		},
	}
	addScheduleFlags(cmd, f)
	return cmd
}

func newListCmd(a *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the recipe's tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			e, err := a.newEngine(out, nil)
			if err != nil {
				return err
			}
			defer e.Close()

			tasks := e.Tasks().Visible()
			if all {
				tasks = e.Tasks().All()
			}
			items := make([]ui.ListItem, 0, len(tasks))
			for _, t := range tasks {
				items = append(items, ui.ListItem{Name: t.Name(), Description: t.Description()})
			}
			_, err = fmt.Fprint(out, ui.RenderList(items))
			return err
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include hidden tasks")
	return cmd
}
