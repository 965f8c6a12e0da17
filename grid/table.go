package grid

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/shepgo/shepgo/model"
	"github.com/shepgo/shepgo/names"
)

var (
	styleHeader    = lipgloss.NewStyle().Bold(true)
	styleBase      = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleQueued    = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	styleRunning   = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF")).Bold(true)
	styleCompleted = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleDefault   = lipgloss.NewStyle().Foreground(lipgloss.Color("#CCCCCC"))
)

func statusStyle(s model.JobStatus) lipgloss.Style {
	switch s {
	case model.StatusQueued, model.StatusRequeued:
		return styleQueued
	case model.StatusRunning:
		return styleRunning
	case model.StatusCompleted:
		return styleCompleted
	case model.StatusFailed, model.StatusCancelled:
		return styleFailed
	}
	return styleDefault
}

type row struct {
	index   int
	name    string
	sig     string
	jobID   string
	status  model.JobStatus
	metrics string
}

// renderTable prints the status table for one monitor tick. The base name
// holds everything the experiments share; per row names only carry what
// differs.
func renderTable(w io.Writer, base string, rows []row) {
	if base != "" {
		fmt.Fprintln(w, styleBase.Render("Base name: "+base))
	}

	header := []string{"IDX", "NAME", "STATE", "SIG", "SID", "METRICS"}
	cells := make([][]string, len(rows))
	for i, r := range rows {
		cells[i] = []string{
			fmt.Sprintf("%d", r.index),
			r.name,
			r.status.Short(),
			r.sig,
			r.jobID,
			r.metrics,
		}
	}

	widths := make([]int, len(header))
	for c, h := range header {
		widths[c] = lipgloss.Width(h)
		for _, r := range cells {
			if width := lipgloss.Width(r[c]); width > widths[c] {
				widths[c] = width
			}
		}
	}

	var b strings.Builder
	for c, h := range header {
		b.WriteString(padCell(h, widths[c]))
		b.WriteString("  ")
	}
	fmt.Fprintln(w, styleHeader.Render(strings.TrimRight(b.String(), " ")))

	for i, r := range cells {
		var line strings.Builder
		for c, cell := range r {
			padded := padCell(cell, widths[c])
			if c == 2 {
				padded = statusStyle(rows[i].status).Render(padded)
			}
			line.WriteString(padded)
			line.WriteString("  ")
		}
		fmt.Fprintln(w, strings.TrimRight(line.String(), " "))
	}
}

// padCell pads to display width, not byte length, so names or metric
// values outside ASCII keep the columns aligned.
func padCell(s string, width int) string {
	if pad := width - lipgloss.Width(s); pad > 0 {
		return s + strings.Repeat(" ", pad)
	}
	return s
}

// summarizeHistory folds the metric history of an experiment into one
// cell: the epoch count plus the latest value of each metric.
func summarizeHistory(history []map[string]any) string {
	if len(history) == 0 {
		return ""
	}
	merged := make(map[string]any)
	for _, metrics := range history {
		for k, v := range metrics {
			merged[k] = v
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := []string{fmt.Sprintf("epoch=%d", len(history))}
	for _, k := range keys {
		parts = append(parts, names.Part(k, merged[k]))
	}
	return strings.Join(parts, " ")
}
