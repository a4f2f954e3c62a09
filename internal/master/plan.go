package master

import (
	"strings"

	"github.com/rileyhilliard/shipit/internal/host"
	"github.com/rileyhilliard/shipit/internal/task"
	"github.com/rileyhilliard/shipit/internal/ui"
)

// Plan renders the task x host matrix a run of root would execute,
// without running anything.
func (m *Master) Plan(root string, hosts []*host.Host) (string, error) {
	tasks, notices, err := task.NewScheduler(m.rt.Tasks()).Expand(root, m.opts.Schedule)
	if err != nil {
		return "", err
	}

	columns := append([]*host.Host(nil), hosts...)
	for _, t := range tasks {
		if t.Local() {
			columns = append(columns, m.rt.Localhost())
			break
		}
	}
	index := make(map[string]int, len(columns))
	aliases := make([]string, len(columns))
	for i, h := range columns {
		index[h.Alias()] = i
		aliases[i] = h.Alias()
	}

	rows := make([]ui.PlanRow, 0, len(tasks))
	for _, t := range tasks {
		set, err := m.HostSet(t, hosts)
		if err != nil {
			return "", err
		}
		row := ui.PlanRow{Task: t.Name(), Hosts: make([]bool, len(columns))}
		for _, h := range set {
			row.Hosts[index[h.Alias()]] = true
		}
		rows = append(rows, row)
	}

	var b strings.Builder
	for _, n := range notices {
		b.WriteString(ui.Skipped(n.Task, n.Reason) + "\n")
	}
	b.WriteString(ui.RenderPlan(aliases, rows))
	return b.String(), nil
}
