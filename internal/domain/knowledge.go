package domain

import "time"

type KnowledgeCategory string

const (
	CategoryCompany       KnowledgeCategory = "company"
	CategoryProducts      KnowledgeCategory = "products"
	CategoryBrandVoice    KnowledgeCategory = "brand_voice"
	CategoryAudience      KnowledgeCategory = "audience"
	CategoryBestPractices KnowledgeCategory = "best_practices"
	CategoryInsights      KnowledgeCategory = "insights"
	CategoryGoals         KnowledgeCategory = "goals"
	CategoryTemplates     KnowledgeCategory = "templates"
	CategoryCompetitors   KnowledgeCategory = "competitors"
)

var KnowledgeCategories = []KnowledgeCategory{
	CategoryCompany,
	CategoryProducts,
	CategoryBrandVoice,
	CategoryAudience,
	CategoryBestPractices,
	CategoryInsights,
	CategoryGoals,
	CategoryTemplates,
	CategoryCompetitors,
}

func (c KnowledgeCategory) Valid() bool {
	for _, known := range KnowledgeCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Knowledge entry sources.
const (
	SourceUser               = "user"
	SourceAIEnrichment       = "ai_enrichment"
	SourcePerformanceTracker = "performance_tracker"
	SourceSituationAnalysis  = "situation_analysis"
	SourceResearch           = "research"
	SourceGoalPlanner        = "goal_planner"
)

type KnowledgeEntry struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Category   KnowledgeCategory `json:"category"`
	Title      string            `json:"title"`
	Content    string            `json:"content"`
	Source     string            `json:"source"`
	Reference  string            `json:"reference,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Confidence float64           `json:"confidence"`
	Verified   bool              `json:"verified"`
	UsageCount int               `json:"usage_count"`
	LastUsedAt *time.Time        `json:"last_used_at,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}
