package digest

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/harunnryd/brain/internal/adapter"
	"github.com/harunnryd/brain/internal/domain"

	"github.com/dustin/go-humanize"
)

// Telegram messages are capped at 4096 characters; the report keeps to
// half of that so the stats header always fits in the first message.
const telegramReportLength = 2000

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func money(v float64) string {
	return humanize.Comma(int64(math.Round(v)))
}

func trendIcon(v float64) string {
	switch {
	case v > 0:
		return "📈"
	case v < 0:
		return "📉"
	}
	return "➡️"
}

// FallbackReport summarizes the metrics without the model.
func FallbackReport(d *Digest) string {
	c, s, t := d.Metrics.Campaigns, d.Metrics.Subscribers, d.Trends
	lines := []string{
		"📊 **Performance Digest**\n",
		fmt.Sprintf("**Campaigns**: %d sent | OR: %s%% | CTR: %s%%", c.Sent, num(c.OpenRate), num(c.ClickRate)),
		fmt.Sprintf("%s Campaigns %s%% vs previous period", trendIcon(t.CampaignsSent), num(t.CampaignsSent)),
		fmt.Sprintf("%s Open rate %spp change\n", trendIcon(t.OpenRate), num(t.OpenRate)),
		fmt.Sprintf("**Subscribers**: %d total | +%d new | -%d unsubs", s.Total, s.New, s.Unsubscribed),
		fmt.Sprintf("Net growth: %d", s.NetGrowth),
	}
	if crm := d.Metrics.CRM; crm.TotalContacts > 0 {
		lines = append(lines, fmt.Sprintf("\n**CRM**: %d new contacts | %d deals won", crm.NewContacts, crm.WonDeals))
	}
	return strings.Join(lines, "\n")
}

// FormatTelegram renders the digest as one chat message.
func FormatTelegram(d *Digest) string {
	icon, label := "📆", "Weekly"
	if d.Period == PeriodMonth {
		icon, label = "📅", "Monthly"
	}
	c, s, t := d.Metrics.Campaigns, d.Metrics.Subscribers, d.Trends

	lines := []string{
		fmt.Sprintf("%s *Brain %s Digest*\n", icon, label),
		fmt.Sprintf("📧 *Campaigns*: %d sent | OR: %s%% | CTR: %s%%", c.Sent, num(c.OpenRate), num(c.ClickRate)),
		fmt.Sprintf("%s %s%% vs prev period", trendIcon(t.CampaignsSent), num(t.CampaignsSent)),
		"",
		fmt.Sprintf("👥 *Subscribers*: %d (+%d, -%d)", s.Total, s.New, s.Unsubscribed),
		fmt.Sprintf("%s Growth: %s%%", trendIcon(t.SubscriberGrowth), num(t.SubscriberGrowth)),
	}

	if crm := d.Metrics.CRM; crm.TotalContacts > 0 {
		lines = append(lines, "", fmt.Sprintf("💼 *CRM*: +%d contacts | %d deals won", crm.NewContacts, crm.WonDeals))
		if crm.WonValue > 0 {
			lines = append(lines, fmt.Sprintf("💰 Won: %s | Pipeline: %s", money(crm.WonValue), money(crm.OpenPipelineValue)))
		}
	}

	if len(d.TopCampaigns) > 0 {
		lines = append(lines, "", "🏆 *Top campaigns*:")
		for _, tc := range d.TopCampaigns {
			badge := "🟡"
			if tc.AboveAverage {
				badge = "🟢"
			}
			lines = append(lines, fmt.Sprintf("  %s %s: OR %s%%, CTR %s%%", badge, tc.Title, num(tc.OpenRate), num(tc.ClickRate)))
		}
	}

	if d.Report != "" {
		report := d.Report
		if r := []rune(report); len(r) > telegramReportLength {
			report = string(r[:telegramReportLength-3]) + "..."
		}
		lines = append(lines, "", report)
	}
	return strings.Join(lines, "\n")
}

// Send delivers the digest to the user's chat on target. It reports false
// without error when the user has no chat linked there.
func Send(ctx context.Context, target adapter.Target, settings *domain.BrainSettings, d *Digest) (bool, error) {
	if target == nil {
		return false, nil
	}
	chatID := target.ChatFor(settings)
	if chatID == "" {
		return false, nil
	}
	if err := target.Notify(ctx, chatID, FormatTelegram(d)); err != nil {
		return false, fmt.Errorf("deliver digest via %s: %w", target.Name(), err)
	}
	return true, nil
}
