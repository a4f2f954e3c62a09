package ui

import (
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
)

// TableColumn defines a table column with name and width.
type TableColumn struct {
	Title string
	Width int
}

// NewTable creates a new Bubbles table with default styling.
func NewTable(columns []TableColumn, rows []table.Row) table.Model {
	cols := make([]table.Column, len(columns))
	for i, c := range columns {
		cols[i] = table.Column{
			Title: c.Title,
			Width: c.Width,
		}
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithRows(rows),
		table.WithFocused(false),
		table.WithHeight(len(rows)+1), // +1 for header
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(ColorMuted).
		BorderBottom(true).
		Bold(true).
		Foreground(ColorPrimary)
	s.Cell = s.Cell.
		Foreground(ColorPrimary)
	s.Selected = s.Selected.
		Foreground(ColorPrimary).
		Bold(false)

	t.SetStyles(s)
	return t
}

// RenderSimpleTable renders a non-interactive table string.
func RenderSimpleTable(columns []TableColumn, rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}

	tableRows := make([]table.Row, len(rows))
	for i, row := range rows {
		tableRows[i] = table.Row(row)
	}

	t := NewTable(columns, tableRows)
	return t.View()
}

// PlanRow is one scheduled task and, per host column, whether it runs there.
type PlanRow struct {
	Task  string
	Hosts []bool
}

// RenderPlan draws the task x host matrix of a dry run. A cell holds the
// task name when the task runs on that host.
func RenderPlan(hosts []string, rows []PlanRow) string {
	if len(rows) == 0 || len(hosts) == 0 {
		return ""
	}

	width := 4
	for _, r := range rows {
		width = max(width, lipgloss.Width(r.Task)+2)
	}
	for _, h := range hosts {
		width = max(width, lipgloss.Width(h)+2)
	}

	columns := make([]TableColumn, len(hosts))
	for i, h := range hosts {
		columns[i] = TableColumn{Title: h, Width: width}
	}

	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = make([]string, len(hosts))
		for j := range hosts {
			if j < len(r.Hosts) && r.Hosts[j] {
				cells[i][j] = r.Task
			} else {
				cells[i][j] = "-"
			}
		}
	}
	return RenderSimpleTable(columns, cells)
}

// padRight pads a string to the specified width.
func padRight(s string, width int) string {
	// Account for ANSI codes when calculating visible length
	visibleLen := lipgloss.Width(s)
	if visibleLen >= width {
		return s
	}
	padding := width - visibleLen
	for i := 0; i < padding; i++ {
		s += " "
	}
	return s
}

// ListItem is a name with a description.
type ListItem struct {
	Name        string
	Description string
}

// RenderList renders aligned name/description pairs.
func RenderList(items []ListItem) string {
	width := 0
	for _, it := range items {
		width = max(width, lipgloss.Width(it.Name))
	}
	var out string
	for _, it := range items {
		out += "  " + padRight(InfoStyle().Render(it.Name), width+2) + MutedStyle().Render(it.Description) + "\n"
	}
	return out
}
