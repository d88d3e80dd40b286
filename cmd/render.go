package cmd

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/metasync/metasync/internal/resource"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
)

// renderTable writes header and rows as a light box table.
func renderTable(w io.Writer, header []string, rows [][]string) {
	if len(rows) == 0 {
		fmt.Fprintln(w, dimStyle.Render("(0 rows)"))
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(header))
	for i, col := range header {
		headerRow[i] = col
	}
	t.AppendHeader(headerRow)

	for _, row := range rows {
		r := make(table.Row, len(row))
		for i, cell := range row {
			r[i] = cell
		}
		t.AppendRow(r)
	}

	t.Render()
	fmt.Fprintf(w, "(%d rows)\n", len(rows))
}

// outcomeLine renders an outcome for humans.
func outcomeLine(what string, out *resource.Outcome) string {
	switch {
	case out.Failed():
		return errStyle.Render("FAILED") + " " + what + ": " + out.String()
	case out.Ignored:
		return dimStyle.Render("IGNORED") + " " + what
	default:
		return successStyle.Render("OK") + " " + what
	}
}

// printOutcome prints the outcome and turns a failure into an error so the exit
// status reflects it.
func printOutcome(w io.Writer, what string, out *resource.Outcome) error {
	fmt.Fprintln(w, outcomeLine(what, out))
	if out.Failed() {
		return fmt.Errorf("%s failed", what)
	}
	return nil
}
