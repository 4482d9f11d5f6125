package knowledge

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/model/modeltest"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, provider *modeltest.Provider, withIndex bool) (*Service, *repository.Repositories) {
	t.Helper()
	repos := repository.New(store.NewMemoryBackend())
	completer := modeltest.Completer(provider)
	var index *VectorIndex
	if withIndex {
		var err error
		index, err = NewVectorIndex("", completer)
		require.NoError(t, err)
	}
	return NewService(repos, completer, index, config.KnowledgeConfig{}), repos
}

func TestAddEntrySetsConfidenceBySource(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, modeltest.New(), false)

	user, err := svc.AddEntry(ctx, "u1", domain.CategoryCompany, "Name", "Acme Shoes", domain.SourceUser)
	require.NoError(t, err)
	assert.True(t, user.Verified)
	assert.Equal(t, 1.0, user.Confidence)

	ai, err := svc.AddEntry(ctx, "u1", domain.CategoryAudience, "Age", "Mostly 25-34", domain.SourceAIEnrichment, WithTags("demo"))
	require.NoError(t, err)
	assert.False(t, ai.Verified)
	assert.Equal(t, 0.7, ai.Confidence)
	assert.Equal(t, []string{"demo"}, ai.Tags)

	_, err = svc.AddEntry(ctx, "u1", "weather", "x", "y", domain.SourceUser)
	assert.ErrorIs(t, err, brainErrors.ErrInvalidInput)
}

func TestGetContextOrdersAndLimits(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t, modeltest.New(), false)

	_, err := svc.AddEntry(ctx, "u1", domain.CategoryCompany, "Guess", "Probably B2C", domain.SourceAIEnrichment)
	require.NoError(t, err)
	_, err = svc.AddEntry(ctx, "u1", domain.CategoryCompany, "Name", "Acme Shoes", domain.SourceUser)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = svc.AddEntry(ctx, "u1", domain.CategoryProducts, fmt.Sprintf("Product %d", i), "Running shoes", domain.SourceUser)
		require.NoError(t, err)
	}
	_, err = svc.AddEntry(ctx, "u2", domain.CategoryCompany, "Other", "Someone else", domain.SourceUser)
	require.NoError(t, err)

	out, err := svc.GetContext(ctx, "u1", ProfileGeneral)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Equal(t, "--- KNOWLEDGE BASE ---", lines[0])
	require.Len(t, lines, 6, out)
	assert.Equal(t, "[✓] [company] Name: Acme Shoes", lines[1])
	assert.Equal(t, "[~] [company] Guess: Probably B2C", lines[2])
	assert.NotContains(t, out, "Someone else")
	assert.NotContains(t, out, "Product 3")

	used, err := repos.Knowledge.Query(ctx, "u1", func(e *domain.KnowledgeEntry) bool { return e.UsageCount > 0 })
	require.NoError(t, err)
	assert.Len(t, used, 5)
}

func TestGetContextEmpty(t *testing.T) {
	svc, _ := newTestService(t, modeltest.New(), false)
	out, err := svc.GetContext(context.Background(), "nobody", ProfileCampaign)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestCampaignProfileIncludesInsights(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, modeltest.New(), false)

	_, err := svc.AddEntry(ctx, "u1", domain.CategoryInsights, "Campaign Review — Spring", "Open rate 30%", domain.SourcePerformanceTracker)
	require.NoError(t, err)

	out, err := svc.GetContext(ctx, "u1", "campaign")
	require.NoError(t, err)
	assert.Contains(t, out, "[~] [insights] Campaign Review — Spring: Open rate 30%")
}

func TestProfileFor(t *testing.T) {
	cases := map[string]string{
		"campaign":           ProfileCampaign,
		"content_generation": ProfileMessage,
		"segmentation":       ProfileList,
		"analytics":          ProfileAnalysis,
		"crm":                ProfileGeneral,
		"":                   ProfileGeneral,
	}
	for in, want := range cases {
		if got := ProfileFor(in); got != want {
			t.Fatalf("ProfileFor(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSearchPrefersSemanticHits(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, modeltest.New(), true)

	_, err := svc.AddEntry(ctx, "u1", domain.CategoryBestPractices, "Subject lines", "short subject lines with numbers get more opens", domain.SourceUser)
	require.NoError(t, err)
	_, err = svc.AddEntry(ctx, "u1", domain.CategoryCompany, "Office", "headquarters located in Warsaw", domain.SourceUser)
	require.NoError(t, err)

	results, err := svc.Search(ctx, "u1", "subject lines opens", "", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "Subject lines", results[0].Title)
}

func TestSearchFallsBackToSubstring(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, modeltest.New(), false)

	_, err := svc.AddEntry(ctx, "u1", domain.CategoryProducts, "Trail runner", "Waterproof TRAIL shoe", domain.SourceUser)
	require.NoError(t, err)
	_, err = svc.AddEntry(ctx, "u1", domain.CategoryProducts, "Sandal", "Summer sandal", domain.SourceUser)
	require.NoError(t, err)

	results, err := svc.Search(ctx, "u1", "trail", "", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Trail runner", results[0].Title)

	_, err = svc.Search(ctx, "u1", "  ", "", 0)
	assert.ErrorIs(t, err, brainErrors.ErrInvalidInput)
}

func TestAutoEnrichFiltersAndDedupes(t *testing.T) {
	ctx := context.Background()
	provider := modeltest.New().On("Extract NEW facts", "```json\n"+`[
		{"category": "company", "title": "Founded", "content": "Founded in 2015 in Krakow"},
		{"category": "company", "title": "Founded", "content": "Duplicate of the same title"},
		{"category": "weather", "title": "Rain", "content": "It rains a lot in autumn"},
		{"category": "goals", "title": "Short", "content": "tiny"},
		{"category": "goals", "title": "Existing", "content": "Already stored fact here"},
		{"category": "audience", "title": "Segment", "content": "Marathon runners over 30", "tags": ["runners"]}
	]`+"\n```")
	svc, _ := newTestService(t, provider, false)

	_, err := svc.AddEntry(ctx, "u1", domain.CategoryGoals, "existing", "Reach 10k subscribers", domain.SourceUser)
	require.NoError(t, err)

	created, err := svc.AutoEnrich(ctx, "u1", "user: we were founded in 2015", "conversation:c1")
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, "Founded", created[0].Title)
	assert.Equal(t, domain.SourceAIEnrichment, created[0].Source)
	assert.Equal(t, "conversation:c1", created[0].Reference)
	assert.Equal(t, []string{"runners"}, created[1].Tags)
}

func TestAutoEnrichRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t, modeltest.New().Default("no json here"), false)
	_, err := svc.AutoEnrich(context.Background(), "u1", "hello", "")
	assert.ErrorIs(t, err, brainErrors.ErrInvalidModelOutput)
}

func TestExtractPerformancePatterns(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, modeltest.New(), false)

	below := &domain.PerformanceSnapshot{UserID: "u1", CampaignTitle: "Flop", Comparison: map[string]domain.Rating{
		domain.MetricOpenRate: domain.RatingBelow, domain.MetricClickRate: domain.RatingAbove,
	}}
	entry, err := svc.ExtractPerformancePatterns(ctx, below)
	require.NoError(t, err)
	assert.Nil(t, entry)

	above := &domain.PerformanceSnapshot{ID: "s1", UserID: "u1", CampaignTitle: "Hit", OpenRate: 31.5, ClickRate: 4,
		WhatWorked: []string{"Emoji in subject"},
		Comparison: map[string]domain.Rating{
			domain.MetricOpenRate: domain.RatingAbove, domain.MetricClickRate: domain.RatingAverage,
		}}
	entry, err = svc.ExtractPerformancePatterns(ctx, above)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, domain.CategoryBestPractices, entry.Category)
	assert.Contains(t, entry.Content, "31.50% open rate")
	assert.Contains(t, entry.Content, "- Emoji in subject")
	assert.Equal(t, 0.8, entry.Confidence)

	again, err := svc.ExtractPerformancePatterns(ctx, above)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, again.ID)
}
