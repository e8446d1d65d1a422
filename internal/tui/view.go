package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jask/fluxqc/internal/database/repository"
	"github.com/jask/fluxqc/internal/qcflag"
	"github.com/jask/fluxqc/internal/selection"
)

func (a *App) View() string {
	var body string
	if a.state == viewRows && a.session != nil {
		body = a.renderRows()
	} else {
		body = a.renderDatasets()
	}
	switch a.modal {
	case modalFlag:
		return body + "\n" + a.renderFlagDialog()
	case modalMessage:
		return body + "\n" + a.renderMessage()
	}
	return body
}

func (a *App) renderDatasets() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("fluxqc datasets"))
	b.WriteString("\n")
	if len(a.datasets) == 0 {
		b.WriteString(helpStyle.Render("no datasets imported, run `fluxqc import <files>`"))
		b.WriteString("\n")
	}
	for i, ds := range a.datasets {
		marker := "  "
		if i == a.dsCursor {
			marker = "▶ "
		}
		line := fmt.Sprintf("%s%-32s %-10s %6d rows  %5d to flag  %5d Q  %5d B",
			marker, truncate(ds.Name, 32), truncate(ds.Instrument, 10), ds.Rows, ds.NeedsFlag, ds.Questionable, ds.Bad)
		if ds.Dirty {
			line += " " + dirtyStyle.Render("[modified]")
		}
		if ds.ReviewedAt != nil {
			line += "  reviewed " + ds.ReviewedAt.In(a.tz).Format(a.dateFormat())
		}
		if i == a.dsCursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render(a.keys.Help(scopeDatasets)))
	if a.status != "" {
		b.WriteString("\n")
		b.WriteString(statusStyle.Render(a.status))
	}
	return b.String()
}

func (a *App) renderRows() string {
	var b strings.Builder
	v := a.view

	title := fmt.Sprintf("%s  page %d/%d  %d rows", v.Dataset.Name, v.Page()+1, max(1, v.Pages()), v.Total)
	if a.onlyPending {
		title += "  (unreviewed only)"
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteString("\n")
	b.WriteString(headerStyle.Render(fmt.Sprintf("    %6s  %-16s %9s %9s %6s %7s  %-4s %-20s %-4s %s",
		"seq", "time", "co2", "flux", "wind", "sst", "qc", "message", "woce", "comment")))
	b.WriteString("\n")

	end := min(len(v.Rows), a.scroll+a.visibleRows())
	for i := a.scroll; i < end; i++ {
		b.WriteString(a.renderRow(i, v.Rows[i]))
		b.WriteString("\n")
	}

	b.WriteString(helpStyle.Render(a.keys.Help(scopeRows)))
	b.WriteString("\n")
	b.WriteString(a.renderStatusBar())
	return b.String()
}

func (a *App) renderRow(i int, m repository.Measurement) string {
	id := selection.RowID(m.ID)
	cursor := "  "
	if i == a.rowCursor {
		cursor = "▶ "
	}
	mark := " "
	if a.session.Selected(id) {
		mark = "*"
	}

	if !m.Selectable {
		line := fmt.Sprintf("%s%s %6d  %-16s %s", cursor, mark, m.Seq, a.formatTime(m.Time), "(no data)")
		return gapStyle.Render(line)
	}

	woce, comment := m.WoceFlag, m.WoceMessage
	if st, ok := a.session.State(id); ok {
		woce, comment = st.OverrideFlag, st.OverrideMessage
	}
	line := fmt.Sprintf("%s%s %6d  %-16s %9s %9s %6s %7s  %-4s %-20s %-4s %s",
		cursor, mark, m.Seq, a.formatTime(m.Time),
		num(m.CO2, 2), num(m.Flux, 3), num(m.WindSpeed, 1), num(m.SST, 2),
		padFlag(m.AutoFlag), truncate(m.AutoMessage, 20),
		padFlag(woce), truncate(comment, 40))
	if a.session.Selected(id) {
		return selectedStyle.Render(line)
	}
	return line
}

func (a *App) renderStatusBar() string {
	parts := []string{fmt.Sprintf("%d selected", a.session.Len())}
	if a.session.Dirty() || a.view.Dataset.Dirty {
		parts = append(parts, dirtyStyle.Render("[modified]"))
	}
	if n := a.session.InFlight(); n > 0 {
		parts = append(parts, fmt.Sprintf("%d saving", n))
	}
	if ch := a.lastChange; ch != nil {
		kind := "click"
		if ch.Range {
			kind = "range"
		}
		parts = append(parts, fmt.Sprintf("%s %s %d", kind, ch.Action, len(ch.Affected)))
	}
	if a.status != "" {
		parts = append(parts, a.status)
	}
	return statusStyle.Render(strings.Join(parts, "  |  "))
}

func (a *App) renderFlagDialog() string {
	d := a.dialog
	var b strings.Builder
	fmt.Fprintf(&b, "Flag %d rows (worst automatic: %s)\n", d.decision.Count, d.decision.Worst)
	for i, f := range d.flags {
		marker := "( )"
		if i == d.flagIdx {
			marker = "(•)"
		}
		fmt.Fprintf(&b, "%s %s\n", marker, flagCell(f)+" "+f.String())
	}
	if len(d.decision.Comments) > 1 {
		b.WriteString(helpStyle.Render(fmt.Sprintf("%d distinct messages in selection", len(d.decision.Comments))))
		b.WriteString("\n")
	}
	b.WriteString(d.input.View())
	b.WriteString("\n")
	if len(d.suggestions) > 0 {
		b.WriteString(helpStyle.Render("[ctrl+n] " + strings.Join(d.suggestions, " · ")))
		b.WriteString("\n")
	}
	if err := a.session.CanConfirm(d.flag(), d.input.Value()); err != nil {
		b.WriteString(disabledStyle.Render("[enter] confirm"))
		b.WriteString(" " + helpStyle.Render(err.Error()))
	} else {
		b.WriteString("[enter] confirm")
	}
	b.WriteString("  [tab] flag  [esc] cancel")
	if d.err != nil {
		b.WriteString("\n")
		b.WriteString(errorStyle.Render(d.err.Error()))
	}
	return dialogStyle.Render(b.String())
}

func (a *App) renderMessage() string {
	msg := lipgloss.JoinVertical(lipgloss.Left,
		errorStyle.Render("Could not load dataset"),
		a.message,
		helpStyle.Render("[enter] ok"),
	)
	return dialogStyle.Render(msg)
}

func (a *App) dateFormat() string {
	if a.cfg.UI.DateFormat == "" {
		return "2006-01-02 15:04"
	}
	return a.cfg.UI.DateFormat
}

func (a *App) formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.In(a.tz).Format(a.dateFormat())
}

func padFlag(f qcflag.Flag) string {
	cell := flagCell(f)
	if pad := 4 - lipgloss.Width(cell); pad > 0 {
		cell += strings.Repeat(" ", pad)
	}
	return cell
}

func num(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.*f", prec, *v)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
