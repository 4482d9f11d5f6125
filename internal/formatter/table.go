// Package formatter renders Brain records as terminal tables.
package formatter

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/domain"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

const timeLayout = "2006-01-02 15:04"

type TableFormatter struct {
	headerStyle  lipgloss.Style
	keyStyle     lipgloss.Style
	cellStyle    lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		keyStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
	}
}

func (f *TableFormatter) list(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers(headers...)
}

func (f *TableFormatter) detail() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.keyStyle
			}
			return f.cellStyle
		})
}

func (f *TableFormatter) FormatPlans(plans []*domain.ActionPlan) string {
	if len(plans) == 0 {
		return "No plans found"
	}
	t := f.list("ID", "Title", "Agent", "Status", "Steps", "Created")
	for _, p := range plans {
		t.Row(
			p.ID,
			truncateString(p.Title, 40),
			p.AgentType,
			string(p.Status),
			fmt.Sprintf("%d/%d", p.CompletedSteps, p.TotalSteps),
			p.CreatedAt.Format(timeLayout),
		)
	}
	return t.String()
}

// FormatPlan shows a plan header followed by its steps.
func (f *TableFormatter) FormatPlan(plan *domain.ActionPlan) string {
	if plan == nil {
		return "No plan found"
	}
	header := f.detail()
	header.Row("ID", plan.ID)
	header.Row("Title", plan.Title)
	header.Row("Agent", plan.AgentType)
	header.Row("Mode", string(plan.WorkMode))
	header.Row("Status", string(plan.Status))
	if plan.GoalID != "" {
		header.Row("Goal", plan.GoalID)
	}
	if plan.Summary != "" {
		header.Row("Summary", truncateString(plan.Summary, 60))
	}

	if len(plan.Steps) == 0 {
		return header.String()
	}
	steps := f.list("#", "Action", "Title", "Status", "Error")
	for _, s := range plan.Steps {
		steps.Row(
			strconv.Itoa(s.Order),
			s.ActionType,
			truncateString(s.Title, 40),
			string(s.Status),
			truncateString(s.Error, 30),
		)
	}
	return header.String() + "\n" + steps.String()
}

func (f *TableFormatter) FormatApprovals(approvals []*domain.PendingApproval) string {
	if len(approvals) == 0 {
		return "No pending approvals"
	}
	t := f.list("ID", "Kind", "Summary", "Channel", "Expires")
	for _, a := range approvals {
		summary, _, _ := strings.Cut(a.Summary, "\n")
		t.Row(
			a.ID,
			string(a.Kind),
			truncateString(summary, 50),
			a.Channel,
			a.ExpiresAt.Format(timeLayout),
		)
	}
	return t.String()
}

func (f *TableFormatter) FormatGoals(goals []*domain.Goal) string {
	if len(goals) == 0 {
		return "No goals found"
	}
	t := f.list("ID", "Title", "Priority", "Status", "Progress", "Plans")
	for _, g := range goals {
		t.Row(
			g.ID,
			truncateString(g.Title, 40),
			string(g.Priority),
			string(g.Status),
			fmt.Sprintf("%d%%", g.Progress()),
			fmt.Sprintf("%d/%d", g.CompletedPlans, g.TotalPlans),
		)
	}
	return t.String()
}

// FormatTasks lists scored tasks with their four sub-scores.
func (f *TableFormatter) FormatTasks(tasks []domain.Task) string {
	if len(tasks) == 0 {
		return "No tasks scored"
	}
	t := f.list("Score", "Title", "Priority", "Impact", "Urgency", "Goal", "Fresh")
	for _, task := range tasks {
		b := task.Breakdown
		t.Row(
			strconv.Itoa(task.Score),
			truncateString(task.Title, 40),
			string(task.Priority),
			strconv.Itoa(b.Impact),
			strconv.Itoa(b.Urgency),
			strconv.Itoa(b.GoalAlignment),
			strconv.Itoa(b.Freshness),
		)
	}
	return t.String()
}

func (f *TableFormatter) FormatSnapshots(snapshots []*domain.PerformanceSnapshot) string {
	if len(snapshots) == 0 {
		return "No performance snapshots"
	}
	t := f.list("Campaign", "Sent", "Open", "Click", "Unsub", "Rating", "Captured")
	for _, s := range snapshots {
		t.Row(
			truncateString(s.CampaignTitle, 30),
			strconv.Itoa(s.SentCount),
			percent(s.OpenRate),
			percent(s.ClickRate),
			percent(s.UnsubscribeRate),
			rating(s),
			formatTime(s.CapturedAt),
		)
	}
	return t.String()
}

func rating(s *domain.PerformanceSnapshot) string {
	open, click := s.Comparison[domain.MetricOpenRate], s.Comparison[domain.MetricClickRate]
	if open == "" && click == "" {
		return "-"
	}
	return fmt.Sprintf("open %s, click %s", orDash(string(open)), orDash(string(click)))
}

func percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

func truncateString(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
