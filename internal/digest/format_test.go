package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/harunnryd/brain/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	sent map[string][]string
	err  error
}

func (f *fakeTarget) Name() string { return "telegram" }

func (f *fakeTarget) Notify(ctx context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	if f.sent == nil {
		f.sent = map[string][]string{}
	}
	f.sent[chatID] = append(f.sent[chatID], text)
	return nil
}

func (f *fakeTarget) ChatFor(settings *domain.BrainSettings) string {
	if settings == nil {
		return ""
	}
	return settings.TelegramChatID
}

func sampleDigest() *Digest {
	return &Digest{
		UserID: "u1",
		Period: PeriodWeek,
		Metrics: Metrics{
			Campaigns:   CampaignMetrics{Sent: 3, OpenRate: 24.5, ClickRate: 3.2},
			Subscribers: SubscriberMetrics{Total: 1200, New: 40, Unsubscribed: 5},
			CRM:         CRMMetrics{TotalContacts: 80, NewContacts: 6, WonDeals: 2, WonValue: 12500.4, OpenPipelineValue: 48000},
		},
		Trends: Trends{CampaignsSent: 50, SubscriberGrowth: -12.5},
		TopCampaigns: []TopCampaign{
			{Title: "Spring sale", OpenRate: 31, ClickRate: 4.5, AboveAverage: true},
			{Title: "Tips", OpenRate: 18, ClickRate: 1.1},
		},
		Report: "Keep the Tuesday sends.",
	}
}

func TestFormatTelegram(t *testing.T) {
	text := FormatTelegram(sampleDigest())
	want := strings.Join([]string{
		"📆 *Brain Weekly Digest*\n",
		"📧 *Campaigns*: 3 sent | OR: 24.5% | CTR: 3.2%",
		"📈 50% vs prev period",
		"",
		"👥 *Subscribers*: 1200 (+40, -5)",
		"📉 Growth: -12.5%",
		"",
		"💼 *CRM*: +6 contacts | 2 deals won",
		"💰 Won: 12,500 | Pipeline: 48,000",
		"",
		"🏆 *Top campaigns*:",
		"  🟢 Spring sale: OR 31%, CTR 4.5%",
		"  🟡 Tips: OR 18%, CTR 1.1%",
		"",
		"Keep the Tuesday sends.",
	}, "\n")
	assert.Equal(t, want, text)
}

func TestFormatTelegramMonthlyTruncatesReport(t *testing.T) {
	d := sampleDigest()
	d.Period = PeriodMonth
	d.Metrics.CRM = CRMMetrics{}
	d.TopCampaigns = nil
	d.Report = strings.Repeat("é", 3000)

	text := FormatTelegram(d)
	assert.True(t, strings.HasPrefix(text, "📅 *Brain Monthly Digest*"), text)
	assert.NotContains(t, text, "*CRM*")
	assert.NotContains(t, text, "Top campaigns")
	assert.True(t, strings.HasSuffix(text, "..."))
	report := text[strings.LastIndex(text, "\n")+1:]
	if n := utf8.RuneCountInString(report); n != telegramReportLength {
		t.Fatalf("report length = %d runes, want %d", n, telegramReportLength)
	}
}

func TestSend(t *testing.T) {
	ctx := context.Background()
	target := &fakeTarget{}

	ok, err := Send(ctx, target, &domain.BrainSettings{UserID: "u1"}, sampleDigest())
	require.NoError(t, err)
	assert.False(t, ok, "no chat linked")
	assert.Empty(t, target.sent)

	ok, err = Send(ctx, target, &domain.BrainSettings{UserID: "u1", TelegramChatID: "42"}, sampleDigest())
	require.NoError(t, err)
	assert.True(t, ok)
	require.Len(t, target.sent["42"], 1)
	assert.Contains(t, target.sent["42"][0], "Brain Weekly Digest")

	target.err = errors.New("bot blocked")
	ok, err = Send(ctx, target, &domain.BrainSettings{UserID: "u1", TelegramChatID: "42"}, sampleDigest())
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deliver digest via telegram")
}
