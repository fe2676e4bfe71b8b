package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/muesli/reflow/wordwrap"

	"github.com/vinayprograms/agentcore/internal/approval"
	"github.com/vinayprograms/agentcore/internal/events"
	"github.com/vinayprograms/agentcore/internal/executor"
	"github.com/vinayprograms/agentcore/internal/policy"
)

const wrapWidth = 100

var (
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	toolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15"))
)

// progressHooks prints loop progress to w.
func progressHooks(w io.Writer, debug bool) *executor.Hooks {
	return &executor.Hooks{
		BeforeToolCall: func(ev events.ToolCallEvent) {
			line := "  → " + toolStyle.Render(ev.Tool)
			if ev.TaskID != "" {
				line += dimStyle.Render(" [" + ev.TaskID + "]")
			}
			fmt.Fprintln(w, line)
		},
		AfterToolCall: func(ev events.ToolResultEvent) {
			d := dimStyle.Render(fmt.Sprintf(" (%s)", ev.Duration.Round(time.Millisecond)))
			if ev.Success {
				fmt.Fprintln(w, "    "+okStyle.Render("✓ "+ev.Tool)+d)
				return
			}
			fmt.Fprintln(w, "    "+errStyle.Render("✗ "+ev.Tool+": "+firstLine(ev.Error))+d)
		},
		OnThinking: func(reasoning string) {
			if debug {
				fmt.Fprintln(w, dimStyle.Render(wordwrap.String("  … "+reasoning, wrapWidth)))
			}
		},
		OnError: func(err error) {
			fmt.Fprintln(w, warnStyle.Render("  ! oracle: "+err.Error()))
		},
	}
}

// printResult renders the run summary and the wrapped final message.
func printResult(w io.Writer, res *executor.Result) {
	status := okStyle.Render("✓ Run complete")
	if !res.Success {
		status = errStyle.Render("✗ Run failed")
	}
	fmt.Fprintf(w, "\n%s %s\n", status, dimStyle.Render(fmt.Sprintf("(%d iterations, %d tool calls, %s)",
		res.Iterations, res.ToolCalls, res.Duration.Round(time.Millisecond))))
	if res.FinalMessage != "" {
		fmt.Fprintln(w)
		fmt.Fprintln(w, wordwrap.String(res.FinalMessage, wrapWidth))
	}
}

// printDecision renders a policy result.
func printDecision(w io.Writer, tool string, res policy.Result) {
	switch {
	case !res.Allowed:
		fmt.Fprintln(w, errStyle.Render("blocked")+dimStyle.Render(" by "+res.BlockedBy))
	case res.RequiresApproval:
		fmt.Fprintln(w, warnStyle.Render("requires approval"))
	default:
		fmt.Fprintln(w, okStyle.Render("allowed"))
	}
	rows := [][2]string{
		{"tool", tool},
		{"reason", res.Reason},
		{"risk", string(res.Risk)},
		{"risk reason", res.RiskReason},
	}
	for _, r := range rows {
		if r[1] != "" {
			fmt.Fprintf(w, "  %s %s\n", dimStyle.Render(fmt.Sprintf("%-12s", r[0]+":")), r[1])
		}
	}
	for _, warn := range res.Warnings {
		fmt.Fprintln(w, "  "+warnStyle.Render("! "+warn))
	}
}

// renderAudit prints resolutions as a table.
func renderAudit(w io.Writer, rs []approval.Resolution) {
	if len(rs) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no approval records"))
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Resolved", "ID", "Tool", "Risk", "Status", "By", "Reason"})
	for _, r := range rs {
		tw.AppendRow(table.Row{
			r.ResolvedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(r.Request.ID),
			r.Request.Tool,
			string(r.Request.Risk),
			string(r.Status),
			r.ResolvedBy,
			r.Reason,
		})
	}
	tw.Render()
}

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
