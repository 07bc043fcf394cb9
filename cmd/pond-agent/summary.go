package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/Pond-International/pond-agent/pkg/pipeline"
	"github.com/Pond-International/pond-agent/pkg/stage"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	skipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// renderSummary formats a finished run for the terminal.
func renderSummary(res *pipeline.RunResult, runErr error) string {
	var lines []string
	lines = append(lines, titleStyle.Render("Run "+res.RunID))
	lines = append(lines, labelStyle.Render("directory: ")+res.RunDir)
	lines = append(lines, labelStyle.Render("evidence:  ")+res.EvidenceDir)
	if res.Plan != nil && res.Plan.Summary != "" {
		lines = append(lines, labelStyle.Render("plan:      ")+firstLine(res.Plan.Summary))
	}
	lines = append(lines, "")

	for _, s := range res.Stages {
		lines = append(lines, stageLine(s))
	}

	if res.Cost != nil && res.Cost.TotalUsage.TotalTokens > 0 {
		lines = append(lines, "")
		lines = append(lines, labelStyle.Render("oracle:    ")+
			fmt.Sprintf("%d tokens, %.4f %s", res.Cost.TotalUsage.TotalTokens, res.Cost.TotalAmount, res.Cost.Currency))
	}

	if runErr != nil {
		lines = append(lines, "", failStyle.Render("Run failed: ")+firstLine(runErr.Error()))
	} else {
		lines = append(lines, "", okStyle.Render("Run succeeded."))
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func stageLine(s *pipeline.StageResult) string {
	name := fmt.Sprintf("%-22s", s.Name)
	switch {
	case s.Skipped:
		return name + skipStyle.Render("skipped")
	case s.Err != nil:
		status := "failed"
		if kind, ok := stage.KindOf(s.Err); ok {
			status = string(kind)
		}
		return name + failStyle.Render(status) + outcomeDetail(s.Outcome)
	default:
		return name + okStyle.Render("succeeded") + outcomeDetail(s.Outcome)
	}
}

// renderOutcome formats a single stage outcome for exec and rerun.
func renderOutcome(out *stage.Outcome, err error) string {
	if out == nil {
		return failStyle.Render("failed: ") + firstLine(err.Error())
	}
	status := okStyle.Render(string(out.State))
	if err != nil {
		status = failStyle.Render(string(out.State))
		if kind, ok := stage.KindOf(err); ok {
			status = failStyle.Render(string(kind))
		}
	}
	line := titleStyle.Render(out.Stage) + " " + status + outcomeDetail(out)
	if out.Script != nil {
		line += "\n" + labelStyle.Render("script: ") + out.Script.Path
	}
	return line
}

func outcomeDetail(out *stage.Outcome) string {
	if out == nil {
		return ""
	}
	return labelStyle.Render(fmt.Sprintf("  executions=%d repairs=%d %s",
		len(out.Attempts), out.RepairsUsed, out.Duration.Round(time.Millisecond)))
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
