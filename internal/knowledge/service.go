// Package knowledge stores per-user business facts and renders them as prompt
// context for agents and planners.
package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/repository"
	"github.com/harunnryd/brain/internal/structured"
)

// Context profiles select which categories feed a prompt.
const (
	ProfileCampaign = "campaign"
	ProfileMessage  = "message"
	ProfileList     = "list"
	ProfileAnalysis = "analysis"
	ProfileGeneral  = "general"
)

const contextHeader = "--- KNOWLEDGE BASE ---\n"

// MinSimilarity drops semantic hits too far from the query to be useful.
const MinSimilarity = 0.25

var categoryMap = map[string][]domain.KnowledgeCategory{
	ProfileCampaign: {
		domain.CategoryCompany, domain.CategoryProducts, domain.CategoryBrandVoice,
		domain.CategoryAudience, domain.CategoryBestPractices, domain.CategoryGoals,
		domain.CategoryInsights,
	},
	ProfileMessage: {
		domain.CategoryBrandVoice, domain.CategoryProducts, domain.CategoryCompany,
		domain.CategoryTemplates, domain.CategoryAudience,
	},
	ProfileList: {
		domain.CategoryAudience, domain.CategoryProducts, domain.CategoryGoals,
	},
	ProfileAnalysis: {
		domain.CategoryInsights, domain.CategoryBestPractices, domain.CategoryGoals,
		domain.CategoryCompetitors,
	},
	ProfileGeneral: {
		domain.CategoryCompany, domain.CategoryProducts, domain.CategoryBrandVoice,
		domain.CategoryGoals,
	},
}

// ProfileFor maps a task type or agent name onto a context profile.
func ProfileFor(name string) string {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "campaign":
		return ProfileCampaign
	case "message", "content_generation":
		return ProfileMessage
	case "list", "segmentation":
		return ProfileList
	case "analysis", "analytics":
		return ProfileAnalysis
	}
	return ProfileGeneral
}

// Categories returns the categories consulted for a profile.
func Categories(profile string) []domain.KnowledgeCategory {
	if cats, ok := categoryMap[ProfileFor(profile)]; ok {
		return cats
	}
	return categoryMap[ProfileGeneral]
}

// EntryOption customizes a new entry.
type EntryOption func(*domain.KnowledgeEntry)

func WithReference(ref string) EntryOption {
	return func(e *domain.KnowledgeEntry) { e.Reference = ref }
}

func WithTags(tags ...string) EntryOption {
	return func(e *domain.KnowledgeEntry) { e.Tags = append(e.Tags, tags...) }
}

func WithConfidence(c float64) EntryOption {
	return func(e *domain.KnowledgeEntry) { e.Confidence = structured.Clamp01(c) }
}

type Service struct {
	repos       *repository.Repositories
	gen         model.Generator
	index       *VectorIndex
	limit       int
	perCategory int
	now         func() time.Time
}

// NewService builds the knowledge service. index may be nil, in which case
// search is substring only.
func NewService(repos *repository.Repositories, gen model.Generator, index *VectorIndex, cfg config.KnowledgeConfig) *Service {
	limit := cfg.ContextLimit
	if limit <= 0 {
		limit = config.DefaultKnowledgeContextLimit
	}
	perCategory := cfg.PerCategoryLimit
	if perCategory <= 0 {
		perCategory = config.DefaultKnowledgePerCategoryLimit
	}
	return &Service{
		repos:       repos,
		gen:         gen,
		index:       index,
		limit:       limit,
		perCategory: perCategory,
		now:         time.Now,
	}
}

// AddEntry stores a fact. Entries from the user are verified with full
// confidence; everything else starts at 0.7.
func (s *Service) AddEntry(ctx context.Context, userID string, category domain.KnowledgeCategory, title, content, source string, opts ...EntryOption) (*domain.KnowledgeEntry, error) {
	if !category.Valid() {
		return nil, brainErrors.InvalidInput(fmt.Sprintf("unknown knowledge category %q", category))
	}
	title, content = strings.TrimSpace(title), strings.TrimSpace(content)
	if title == "" || content == "" {
		return nil, brainErrors.InvalidInput("knowledge entry needs a title and content")
	}
	if source == "" {
		source = domain.SourceUser
	}

	entry := &domain.KnowledgeEntry{
		UserID:     userID,
		Category:   category,
		Title:      title,
		Content:    content,
		Source:     source,
		Confidence: 0.7,
		Verified:   source == domain.SourceUser,
	}
	if entry.Verified {
		entry.Confidence = 1.0
	}
	for _, opt := range opts {
		opt(entry)
	}

	if err := s.repos.Knowledge.Create(ctx, entry); err != nil {
		return nil, err
	}
	s.indexEntry(ctx, entry)
	return entry, nil
}

func (s *Service) indexEntry(ctx context.Context, entry *domain.KnowledgeEntry) {
	if s.index == nil {
		return
	}
	if err := s.index.Upsert(ctx, entry); err != nil {
		logger.FromContext(ctx).Warn("Knowledge indexing failed", "entry_id", entry.ID, "error", err)
	}
}

// Reindex loads every stored entry of a user into the vector index.
func (s *Service) Reindex(ctx context.Context, userID string) (int, error) {
	if s.index == nil {
		return 0, nil
	}
	entries, err := s.repos.Knowledge.Query(ctx, userID, nil)
	if err != nil {
		return 0, err
	}
	for _, e := range entries {
		if err := s.index.Upsert(ctx, e); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}

// Delete removes an entry owned by the user.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if _, err := s.repos.Knowledge.GetOwned(ctx, id, userID); err != nil {
		return err
	}
	if err := s.repos.Knowledge.Delete(ctx, id); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.Remove(ctx, userID, id); err != nil {
			logger.FromContext(ctx).Warn("Knowledge unindex failed", "entry_id", id, "error", err)
		}
	}
	return nil
}

// byRelevance orders verified entries first, then confidence, then usage.
func byRelevance(entries []*domain.KnowledgeEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Verified != b.Verified {
			return a.Verified
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.UsageCount > b.UsageCount
	})
}

// Entries returns a user's entries by relevance, optionally one category.
func (s *Service) Entries(ctx context.Context, userID string, category domain.KnowledgeCategory) ([]*domain.KnowledgeEntry, error) {
	entries, err := s.repos.Knowledge.Query(ctx, userID, func(e *domain.KnowledgeEntry) bool {
		return category == "" || e.Category == category
	})
	if err != nil {
		return nil, err
	}
	byRelevance(entries)
	return entries, nil
}

// GetContext renders the most relevant entries for a profile as a prompt
// block and records their usage. It returns "" when nothing applies.
func (s *Service) GetContext(ctx context.Context, userID, profile string) (string, error) {
	all, err := s.Entries(ctx, userID, "")
	if err != nil {
		return "", err
	}

	byCategory := make(map[domain.KnowledgeCategory][]*domain.KnowledgeEntry)
	for _, e := range all {
		byCategory[e.Category] = append(byCategory[e.Category], e)
	}

	seen := make(map[string]bool)
	var picked []*domain.KnowledgeEntry
	for _, cat := range Categories(profile) {
		found := byCategory[cat]
		if len(found) > s.perCategory {
			found = found[:s.perCategory]
		}
		for _, e := range found {
			if seen[e.ID] {
				continue
			}
			seen[e.ID] = true
			picked = append(picked, e)
		}
	}
	if len(picked) > s.limit {
		picked = picked[:s.limit]
	}
	if len(picked) == 0 {
		return "", nil
	}

	now := s.now()
	var b strings.Builder
	b.WriteString(contextHeader)
	for _, e := range picked {
		mark := "~"
		if e.Verified {
			mark = "✓"
		}
		fmt.Fprintf(&b, "[%s] [%s] %s: %s\n", mark, e.Category, e.Title, e.Content)

		e.UsageCount++
		e.LastUsedAt = &now
		if err := s.repos.Knowledge.Update(ctx, e); err != nil {
			logger.FromContext(ctx).Warn("Knowledge usage update failed", "entry_id", e.ID, "error", err)
		}
	}
	return b.String(), nil
}

// Search finds entries matching query. Semantic hits are preferred; a
// case-insensitive substring match is the fallback.
func (s *Service) Search(ctx context.Context, userID, query string, category domain.KnowledgeCategory, limit int) ([]*domain.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, brainErrors.InvalidInput("empty search query")
	}

	if s.index != nil {
		results, err := s.semanticSearch(ctx, userID, query, category, limit)
		if err != nil {
			logger.FromContext(ctx).Warn("Semantic knowledge search failed", "error", err)
		} else if len(results) > 0 {
			return results, nil
		}
	}

	needle := strings.ToLower(query)
	matches, err := s.repos.Knowledge.Query(ctx, userID, func(e *domain.KnowledgeEntry) bool {
		if category != "" && e.Category != category {
			return false
		}
		return strings.Contains(strings.ToLower(e.Title), needle) ||
			strings.Contains(strings.ToLower(e.Content), needle)
	})
	if err != nil {
		return nil, err
	}
	byRelevance(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (s *Service) semanticSearch(ctx context.Context, userID, query string, category domain.KnowledgeCategory, limit int) ([]*domain.KnowledgeEntry, error) {
	hits, err := s.index.Search(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	var out []*domain.KnowledgeEntry
	for _, hit := range hits {
		if hit.Similarity < MinSimilarity {
			continue
		}
		if category != "" && hit.Category != string(category) {
			continue
		}
		entry, err := s.repos.Knowledge.GetOwned(ctx, hit.ID, userID)
		if err != nil {
			// stale vector for a deleted entry
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

type enrichItem struct {
	Category string   `json:"category"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Tags     []string `json:"tags"`
}

const enrichPrompt = `You are analyzing a conversation between a user and an email marketing assistant.
Extract NEW facts worth remembering in the knowledge base.

CATEGORIES:
- company: facts about the user's company
- products: products, services, offer
- brand_voice: tone of voice, writing style, preferred phrases
- audience: facts about the target audience
- best_practices: conclusions about what works and what does not
- insights: data and observations from campaigns
- goals: business goals and KPIs

CONVERSATION:
%s

Reply with a JSON array of objects:
[{"category": "...", "title": "short title", "content": "the fact", "tags": ["tag1"]}]

If there is nothing worth extracting reply with [].
Extract ONLY concrete, useful facts. Do not repeat generic statements.`

// AutoEnrich asks the model to pull durable facts out of a conversation and
// stores the valid, previously unseen ones.
func (s *Service) AutoEnrich(ctx context.Context, userID, conversation, reference string) ([]*domain.KnowledgeEntry, error) {
	settings, err := s.repos.SettingsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	resp, err := s.gen.Generate(ctx, settings, domain.TaskConversation, fmt.Sprintf(enrichPrompt, conversation), model.Options{
		MaxTokens:   2000,
		Temperature: 0.3,
	})
	if err != nil {
		return nil, err
	}

	var items []enrichItem
	if _, err := structured.DecodeArray(resp.Content, &items); err != nil {
		return nil, err
	}

	existing, err := s.repos.Knowledge.Query(ctx, userID, nil)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(existing)+len(items))
	for _, e := range existing {
		seen[strings.ToLower(e.Title)] = true
	}

	var created []*domain.KnowledgeEntry
	for _, item := range items {
		cat := domain.KnowledgeCategory(strings.TrimSpace(item.Category))
		title := strings.TrimSpace(item.Title)
		if !cat.Valid() || title == "" || len(strings.TrimSpace(item.Content)) <= 10 {
			continue
		}
		key := strings.ToLower(title)
		if seen[key] {
			continue
		}
		seen[key] = true

		opts := []EntryOption{WithTags(item.Tags...)}
		if reference != "" {
			opts = append(opts, WithReference(reference))
		}
		entry, err := s.AddEntry(ctx, userID, cat, title, item.Content, domain.SourceAIEnrichment, opts...)
		if err != nil {
			return created, err
		}
		created = append(created, entry)
	}

	logger.FromContext(ctx).Info("Knowledge enriched", "user_id", userID, "extracted", len(items), "created", len(created))
	return created, nil
}

// ExtractPerformancePatterns records what worked in an above-average campaign
// as a best practice. It returns nil for other snapshots.
func (s *Service) ExtractPerformancePatterns(ctx context.Context, snap *domain.PerformanceSnapshot) (*domain.KnowledgeEntry, error) {
	if !snap.IsAboveAverage() {
		return nil, nil
	}

	title := "What works — " + snap.CampaignTitle
	existing, err := s.repos.Knowledge.First(ctx, snap.UserID, func(e *domain.KnowledgeEntry) bool {
		return e.Category == domain.CategoryBestPractices && e.Title == title
	})
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Campaign %q beat the benchmark with %.2f%% open rate and %.2f%% click rate.",
		snap.CampaignTitle, snap.OpenRate, snap.ClickRate)
	for _, w := range snap.WhatWorked {
		b.WriteString("\n- " + w)
	}
	if snap.StyleNotes != "" {
		b.WriteString("\nStyle: " + snap.StyleNotes)
	}

	return s.AddEntry(ctx, snap.UserID, domain.CategoryBestPractices, title, b.String(), domain.SourcePerformanceTracker,
		WithReference("snapshot:"+snap.ID),
		WithConfidence(0.8),
		WithTags("performance", "pattern"),
	)
}

// Summary is a dashboard view of a user's knowledge base.
type Summary struct {
	Total      int
	Verified   int
	ByCategory map[domain.KnowledgeCategory]int
	MostUsed   []*domain.KnowledgeEntry
}

func (s *Service) Summary(ctx context.Context, userID string) (Summary, error) {
	entries, err := s.repos.Knowledge.Query(ctx, userID, nil)
	if err != nil {
		return Summary{}, err
	}
	sum := Summary{Total: len(entries), ByCategory: make(map[domain.KnowledgeCategory]int)}
	var used []*domain.KnowledgeEntry
	for _, e := range entries {
		if e.Verified {
			sum.Verified++
		}
		sum.ByCategory[e.Category]++
		if e.UsageCount > 0 {
			used = append(used, e)
		}
	}
	sort.SliceStable(used, func(i, j int) bool { return used[i].UsageCount > used[j].UsageCount })
	if len(used) > 5 {
		used = used[:5]
	}
	sum.MostUsed = used
	return sum, nil
}
