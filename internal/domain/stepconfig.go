package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	brainErrors "github.com/harunnryd/brain/internal/errors"
)

// StepConfig is the typed configuration of one plan step. Every action type
// has exactly one variant.
type StepConfig interface {
	ActionType() string
}

type validator interface {
	Validate() error
}

// Campaign actions.
type SelectAudienceConfig struct {
	ListIDs     []string `json:"list_ids,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Description string   `json:"description,omitempty"`
}

type GenerateContentConfig struct {
	Topic       string `json:"topic,omitempty"`
	Goal        string `json:"goal,omitempty"`
	Tone        string `json:"tone,omitempty"`
	Language    string `json:"language,omitempty"`
	MessageType string `json:"message_type,omitempty"`
}

type CreateMessageConfig struct {
	Subject     string   `json:"subject,omitempty"`
	Content     string   `json:"content,omitempty"`
	MessageType string   `json:"message_type,omitempty"`
	ListIDs     []string `json:"list_ids,omitempty"`
}

type ScheduleSendConfig struct {
	MessageID string `json:"message_id,omitempty"`
	SendAt    string `json:"send_at,omitempty"`
	SendToAll bool   `json:"send_to_all,omitempty"`
}

type AnalyzeResultsConfig struct {
	MessageID string `json:"message_id,omitempty"`
}

type ABVariant struct {
	Subject string `json:"subject"`
	Content string `json:"content,omitempty"`
}

type CreateABTestConfig struct {
	MessageID    string      `json:"message_id,omitempty"`
	Variants     []ABVariant `json:"variants,omitempty"`
	SplitPercent int         `json:"split_percent,omitempty"`
	Metric       string      `json:"metric,omitempty"`
}

type CheckABResultsConfig struct {
	TestID string `json:"test_id,omitempty"`
}

type ListABTestsConfig struct {
	Status string `json:"status,omitempty"`
}

// CRM actions.
type SearchContactsConfig struct {
	Query    string `json:"query,omitempty"`
	Status   string `json:"status,omitempty"`
	MinScore int    `json:"min_score,omitempty"`
}

type CreateContactConfig struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Company   string `json:"company,omitempty"`
	Status    string `json:"status,omitempty"`
}

type UpdateContactStatusConfig struct {
	ContactID string `json:"contact_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Status    string `json:"status"`
}

type CreateDealConfig struct {
	Title     string  `json:"title"`
	ContactID string  `json:"contact_id,omitempty"`
	Value     float64 `json:"value,omitempty"`
	Stage     string  `json:"stage,omitempty"`
}

type MoveDealStageConfig struct {
	DealID string `json:"deal_id,omitempty"`
	Stage  string `json:"stage"`
}

type CreateTaskConfig struct {
	Title     string `json:"title"`
	ContactID string `json:"contact_id,omitempty"`
	DealID    string `json:"deal_id,omitempty"`
	DueAt     string `json:"due_at,omitempty"`
	Priority  string `json:"priority,omitempty"`
}

type ScoreAnalysisConfig struct {
	MinScore int `json:"min_score,omitempty"`
}

type PipelineSummaryConfig struct{}

type CreateCompanyConfig struct {
	Name     string `json:"name"`
	Domain   string `json:"domain,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// List actions.
type CreateListConfig struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type CleanBouncedConfig struct {
	ListID string `json:"list_id,omitempty"`
}

type TagSubscribersConfig struct {
	ListID string `json:"list_id,omitempty"`
	Tag    string `json:"tag"`
	Filter string `json:"filter,omitempty"`
}

type ShowStatsConfig struct {
	ListID string `json:"list_id,omitempty"`
}

type DeleteListConfig struct {
	ListID string `json:"list_id"`
}

type DeleteAllSubscribersConfig struct {
	ListID string `json:"list_id"`
}

type ChangeDomainSettingsConfig struct {
	Domain      string `json:"domain,omitempty"`
	SenderName  string `json:"sender_name,omitempty"`
	SenderEmail string `json:"sender_email,omitempty"`
	ReplyTo     string `json:"reply_to,omitempty"`
}

// Message actions.
type GenerateSubjectConfig struct {
	Topic string `json:"topic,omitempty"`
	Tone  string `json:"tone,omitempty"`
	Count int    `json:"count,omitempty"`
}

type GenerateBodyConfig struct {
	Topic   string `json:"topic,omitempty"`
	Subject string `json:"subject,omitempty"`
	Tone    string `json:"tone,omitempty"`
	Length  string `json:"length,omitempty"`
}

type GenerateABVariantsConfig struct {
	Subject string `json:"subject,omitempty"`
	Content string `json:"content,omitempty"`
	Count   int    `json:"count,omitempty"`
}

type ImproveContentConfig struct {
	Content string `json:"content,omitempty"`
	Goal    string `json:"goal,omitempty"`
}

// Research actions.
type WebSearchConfig struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

type DeepResearchConfig struct {
	Topic     string   `json:"topic"`
	Questions []string `json:"questions,omitempty"`
}

type CompanyResearchConfig struct {
	Company string `json:"company"`
	Domain  string `json:"domain,omitempty"`
}

type TrendAnalysisConfig struct {
	Industry string `json:"industry,omitempty"`
	Period   string `json:"period,omitempty"`
}

type ContentResearchConfig struct {
	Topic  string `json:"topic"`
	Format string `json:"format,omitempty"`
}

type SaveToKnowledgeConfig struct {
	Category string `json:"category,omitempty"`
	Title    string `json:"title,omitempty"`
	Content  string `json:"content,omitempty"`
}

// Analytics actions.
type FetchCampaignStatsConfig struct {
	MessageIDs []string `json:"message_ids,omitempty"`
	Days       int      `json:"days,omitempty"`
}

type FetchSubscriberStatsConfig struct {
	ListID string `json:"list_id,omitempty"`
	Days   int    `json:"days,omitempty"`
}

type GenerateReportConfig struct {
	Period   string   `json:"period,omitempty"`
	Sections []string `json:"sections,omitempty"`
}

type ComparePerformanceConfig struct {
	MessageIDs []string `json:"message_ids,omitempty"`
}

type AnalyzeTrendsConfig struct {
	Metric string `json:"metric,omitempty"`
	Days   int    `json:"days,omitempty"`
}

type AIUsageReportConfig struct {
	Days int `json:"days,omitempty"`
}

// Segmentation actions.
type AnalyzeTagDistributionConfig struct{}

type AnalyzeScoreDistributionConfig struct {
	Buckets []int `json:"buckets,omitempty"`
}

type CreateTagConfig struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type ApplyTagConfig struct {
	Tag        string   `json:"tag"`
	ContactIDs []string `json:"contact_ids,omitempty"`
	MinScore   int      `json:"min_score,omitempty"`
}

type SuggestSegmentsConfig struct {
	Goal string `json:"goal,omitempty"`
}

type AutomationStatsConfig struct {
	AutomationID string `json:"automation_id,omitempty"`
}

type CreateAutomationConfig struct {
	Name    string   `json:"name"`
	Trigger string   `json:"trigger,omitempty"`
	Actions []string `json:"actions,omitempty"`
	Active  bool     `json:"active,omitempty"`
}

type UpdateAutomationConfig struct {
	AutomationID string   `json:"automation_id"`
	Name         string   `json:"name,omitempty"`
	Trigger      string   `json:"trigger,omitempty"`
	Actions      []string `json:"actions,omitempty"`
}

type ToggleAutomationConfig struct {
	AutomationID string `json:"automation_id"`
	Active       bool   `json:"active"`
}

type DeleteAutomationConfig struct {
	AutomationID string `json:"automation_id"`
}

type ListAutomationsConfig struct{}

func (SelectAudienceConfig) ActionType() string           { return "select_audience" }
func (GenerateContentConfig) ActionType() string          { return "generate_content" }
func (CreateMessageConfig) ActionType() string            { return "create_message" }
func (ScheduleSendConfig) ActionType() string             { return "schedule_send" }
func (AnalyzeResultsConfig) ActionType() string           { return "analyze_results" }
func (CreateABTestConfig) ActionType() string             { return "create_ab_test" }
func (CheckABResultsConfig) ActionType() string           { return "check_ab_results" }
func (ListABTestsConfig) ActionType() string              { return "list_ab_tests" }
func (SearchContactsConfig) ActionType() string           { return "search_contacts" }
func (CreateContactConfig) ActionType() string            { return "create_contact" }
func (UpdateContactStatusConfig) ActionType() string      { return "update_contact_status" }
func (CreateDealConfig) ActionType() string               { return "create_deal" }
func (MoveDealStageConfig) ActionType() string            { return "move_deal_stage" }
func (CreateTaskConfig) ActionType() string               { return "create_task" }
func (ScoreAnalysisConfig) ActionType() string            { return "score_analysis" }
func (PipelineSummaryConfig) ActionType() string          { return "pipeline_summary" }
func (CreateCompanyConfig) ActionType() string            { return "create_company" }
func (CreateListConfig) ActionType() string               { return "create_list" }
func (CleanBouncedConfig) ActionType() string             { return "clean_bounced" }
func (TagSubscribersConfig) ActionType() string           { return "tag_subscribers" }
func (ShowStatsConfig) ActionType() string                { return "show_stats" }
func (DeleteListConfig) ActionType() string               { return ActionDeleteList }
func (DeleteAllSubscribersConfig) ActionType() string     { return ActionDeleteAllSubscribers }
func (ChangeDomainSettingsConfig) ActionType() string     { return ActionChangeDomainSettings }
func (GenerateSubjectConfig) ActionType() string          { return "generate_subject" }
func (GenerateBodyConfig) ActionType() string             { return "generate_body" }
func (GenerateABVariantsConfig) ActionType() string       { return "generate_ab_variants" }
func (ImproveContentConfig) ActionType() string           { return "improve_content" }
func (WebSearchConfig) ActionType() string                { return "web_search" }
func (DeepResearchConfig) ActionType() string             { return "deep_research" }
func (CompanyResearchConfig) ActionType() string          { return "company_research" }
func (TrendAnalysisConfig) ActionType() string            { return "trend_analysis" }
func (ContentResearchConfig) ActionType() string          { return "content_research" }
func (SaveToKnowledgeConfig) ActionType() string          { return "save_to_knowledge" }
func (FetchCampaignStatsConfig) ActionType() string       { return "fetch_campaign_stats" }
func (FetchSubscriberStatsConfig) ActionType() string     { return "fetch_subscriber_stats" }
func (GenerateReportConfig) ActionType() string           { return "generate_report" }
func (ComparePerformanceConfig) ActionType() string       { return "compare_performance" }
func (AnalyzeTrendsConfig) ActionType() string            { return "analyze_trends" }
func (AIUsageReportConfig) ActionType() string            { return "ai_usage_report" }
func (AnalyzeTagDistributionConfig) ActionType() string   { return "analyze_tag_distribution" }
func (AnalyzeScoreDistributionConfig) ActionType() string { return "analyze_score_distribution" }
func (CreateTagConfig) ActionType() string                { return "create_tag" }
func (ApplyTagConfig) ActionType() string                 { return "apply_tag" }
func (SuggestSegmentsConfig) ActionType() string          { return "suggest_segments" }
func (AutomationStatsConfig) ActionType() string          { return "automation_stats" }
func (CreateAutomationConfig) ActionType() string         { return "create_automation" }
func (UpdateAutomationConfig) ActionType() string         { return "update_automation" }
func (ToggleAutomationConfig) ActionType() string         { return "toggle_automation" }
func (DeleteAutomationConfig) ActionType() string         { return "delete_automation" }
func (ListAutomationsConfig) ActionType() string          { return "list_automations" }

// EffectiveAction escalates a send to every subscriber to a critical action.
func (c *ScheduleSendConfig) EffectiveAction() string {
	if c.SendToAll {
		return ActionSendToAll
	}
	return ""
}

func (c *CreateListConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return brainErrors.InvalidInput("create_list requires a name")
	}
	return nil
}

func (c *DeleteListConfig) Validate() error {
	if strings.TrimSpace(c.ListID) == "" {
		return brainErrors.InvalidInput("delete_list requires list_id")
	}
	return nil
}

func (c *DeleteAllSubscribersConfig) Validate() error {
	if strings.TrimSpace(c.ListID) == "" {
		return brainErrors.InvalidInput("delete_all_subscribers requires list_id")
	}
	return nil
}

func (c *ChangeDomainSettingsConfig) Validate() error {
	if c.Domain == "" && c.SenderName == "" && c.SenderEmail == "" && c.ReplyTo == "" {
		return brainErrors.InvalidInput("change_domain_settings requires at least one setting")
	}
	for _, addr := range []string{c.SenderEmail, c.ReplyTo} {
		if addr != "" && !strings.Contains(addr, "@") {
			return brainErrors.InvalidInput(fmt.Sprintf("change_domain_settings: %q is not an email address", addr))
		}
	}
	return nil
}

func (c *CreateTagConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return brainErrors.InvalidInput("create_tag requires a name")
	}
	return nil
}

func (c *SaveToKnowledgeConfig) Validate() error {
	if c.Category != "" && !KnowledgeCategory(c.Category).Valid() {
		return brainErrors.InvalidInput(fmt.Sprintf("unknown knowledge category %q", c.Category))
	}
	return nil
}

func (c *ToggleAutomationConfig) Validate() error {
	if strings.TrimSpace(c.AutomationID) == "" {
		return brainErrors.InvalidInput("toggle_automation requires automation_id")
	}
	return nil
}

func (c *DeleteAutomationConfig) Validate() error {
	if strings.TrimSpace(c.AutomationID) == "" {
		return brainErrors.InvalidInput("delete_automation requires automation_id")
	}
	return nil
}

// Critical actions always require approval regardless of work mode.
const (
	ActionDeleteList           = "delete_list"
	ActionDeleteAllSubscribers = "delete_all_subscribers"
	ActionSendToAll            = "send_to_all"
	ActionChangeDomainSettings = "change_domain_settings"
)

var CriticalActions = []string{
	ActionDeleteList,
	ActionDeleteAllSubscribers,
	ActionSendToAll,
	ActionChangeDomainSettings,
}

var stepConfigFactories = map[string]func() StepConfig{
	"select_audience":            func() StepConfig { return &SelectAudienceConfig{} },
	"generate_content":           func() StepConfig { return &GenerateContentConfig{} },
	"create_message":             func() StepConfig { return &CreateMessageConfig{} },
	"schedule_send":              func() StepConfig { return &ScheduleSendConfig{} },
	"analyze_results":            func() StepConfig { return &AnalyzeResultsConfig{} },
	"create_ab_test":             func() StepConfig { return &CreateABTestConfig{} },
	"check_ab_results":           func() StepConfig { return &CheckABResultsConfig{} },
	"list_ab_tests":              func() StepConfig { return &ListABTestsConfig{} },
	"search_contacts":            func() StepConfig { return &SearchContactsConfig{} },
	"create_contact":             func() StepConfig { return &CreateContactConfig{} },
	"update_contact_status":      func() StepConfig { return &UpdateContactStatusConfig{} },
	"create_deal":                func() StepConfig { return &CreateDealConfig{} },
	"move_deal_stage":            func() StepConfig { return &MoveDealStageConfig{} },
	"create_task":                func() StepConfig { return &CreateTaskConfig{} },
	"score_analysis":             func() StepConfig { return &ScoreAnalysisConfig{} },
	"pipeline_summary":           func() StepConfig { return &PipelineSummaryConfig{} },
	"create_company":             func() StepConfig { return &CreateCompanyConfig{} },
	"create_list":                func() StepConfig { return &CreateListConfig{} },
	"clean_bounced":              func() StepConfig { return &CleanBouncedConfig{} },
	"tag_subscribers":            func() StepConfig { return &TagSubscribersConfig{} },
	"show_stats":                 func() StepConfig { return &ShowStatsConfig{} },
	ActionDeleteList:             func() StepConfig { return &DeleteListConfig{} },
	ActionDeleteAllSubscribers:   func() StepConfig { return &DeleteAllSubscribersConfig{} },
	ActionChangeDomainSettings:   func() StepConfig { return &ChangeDomainSettingsConfig{} },
	"generate_subject":           func() StepConfig { return &GenerateSubjectConfig{} },
	"generate_body":              func() StepConfig { return &GenerateBodyConfig{} },
	"generate_ab_variants":       func() StepConfig { return &GenerateABVariantsConfig{} },
	"improve_content":            func() StepConfig { return &ImproveContentConfig{} },
	"web_search":                 func() StepConfig { return &WebSearchConfig{} },
	"deep_research":              func() StepConfig { return &DeepResearchConfig{} },
	"company_research":           func() StepConfig { return &CompanyResearchConfig{} },
	"trend_analysis":             func() StepConfig { return &TrendAnalysisConfig{} },
	"content_research":           func() StepConfig { return &ContentResearchConfig{} },
	"save_to_knowledge":          func() StepConfig { return &SaveToKnowledgeConfig{} },
	"fetch_campaign_stats":       func() StepConfig { return &FetchCampaignStatsConfig{} },
	"fetch_subscriber_stats":     func() StepConfig { return &FetchSubscriberStatsConfig{} },
	"generate_report":            func() StepConfig { return &GenerateReportConfig{} },
	"compare_performance":        func() StepConfig { return &ComparePerformanceConfig{} },
	"analyze_trends":             func() StepConfig { return &AnalyzeTrendsConfig{} },
	"ai_usage_report":            func() StepConfig { return &AIUsageReportConfig{} },
	"analyze_tag_distribution":   func() StepConfig { return &AnalyzeTagDistributionConfig{} },
	"analyze_score_distribution": func() StepConfig { return &AnalyzeScoreDistributionConfig{} },
	"create_tag":                 func() StepConfig { return &CreateTagConfig{} },
	"apply_tag":                  func() StepConfig { return &ApplyTagConfig{} },
	"suggest_segments":           func() StepConfig { return &SuggestSegmentsConfig{} },
	"automation_stats":           func() StepConfig { return &AutomationStatsConfig{} },
	"create_automation":          func() StepConfig { return &CreateAutomationConfig{} },
	"update_automation":          func() StepConfig { return &UpdateAutomationConfig{} },
	"toggle_automation":          func() StepConfig { return &ToggleAutomationConfig{} },
	"delete_automation":          func() StepConfig { return &DeleteAutomationConfig{} },
	"list_automations":           func() StepConfig { return &ListAutomationsConfig{} },
}

// KnownAction reports whether actionType has a config variant.
func KnownAction(actionType string) bool {
	_, ok := stepConfigFactories[actionType]
	return ok
}

// DecodeStepConfig decodes raw JSON into the variant for actionType. Unknown
// fields are ignored; unknown action types are rejected.
func DecodeStepConfig(actionType string, raw json.RawMessage) (StepConfig, error) {
	factory, ok := stepConfigFactories[actionType]
	if !ok {
		return nil, fmt.Errorf("%q: %w", actionType, brainErrors.ErrUnknownAction)
	}

	cfg := factory()
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
		if err := json.Unmarshal(trimmed, cfg); err != nil {
			return nil, brainErrors.InvalidModelOutput(fmt.Sprintf("config for %s: %v", actionType, err))
		}
	}

	if v, ok := cfg.(validator); ok {
		if err := v.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
