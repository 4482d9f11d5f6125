package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/plan"
	"github.com/harunnryd/brain/internal/platform"
)

var segmentationProfile = profile{
	name: "segmentation",
	role: "You are a marketing segmentation and automation expert.",
	task: domain.TaskSegmentation,
	actions: []string{
		"analyze_tag_distribution", "analyze_score_distribution", "create_tag", "apply_tag",
		"suggest_segments", "automation_stats", "create_automation", "update_automation",
		"toggle_automation", "delete_automation", "list_automations",
	},
	docs: `- analyze_tag_distribution: count contacts per tag (config: {})
- analyze_score_distribution: group contacts by score (config: {buckets: [25, 50, 75]})
- create_tag: create a tag (config: {name: "", description: ""})
- apply_tag: tag contacts by id or by minimum score (config: {tag: "", contact_ids: ["id"], min_score: N})
- suggest_segments: propose new segments (config: {goal: ""})
- automation_stats: automation statistics (config: {automation_id: "id"})
- create_automation: create an automation rule (config: {name: "", trigger: "", actions: [""], active: true})
- update_automation: change an automation rule (config: {automation_id: "id", name: "", trigger: "", actions: [""]})
- toggle_automation: enable or disable a rule (config: {automation_id: "id", active: true})
- delete_automation: delete a rule (config: {automation_id: "id"})
- list_automations: list rules (config: {})
`,
}

var defaultScoreBuckets = []int{25, 50, 75}

// Segmentation groups contacts with tags and scores and manages automation
// rules.
type Segmentation struct {
	*Base
}

func NewSegmentation(base *Base) *Segmentation {
	return &Segmentation{Base: base}
}

func (a *Segmentation) Name() string { return segmentationProfile.name }

func (a *Segmentation) Description() string {
	return "Segments contacts by tags and scores, suggests segments and manages automation rules."
}

func (a *Segmentation) Capabilities() []string {
	return []string{"tag_analysis", "score_segments", "manage_tags", "suggest_segments", "manage_automations", "automation_stats"}
}

func (a *Segmentation) ActionTypes() []string { return segmentationProfile.actions }

func (a *Segmentation) NeedsMoreInfo(in domain.Intent, channel string) bool {
	return defaultNeedsMoreInfo(in, channel)
}

func (a *Segmentation) InfoQuestions(_ context.Context, in domain.Intent, _ Account) (string, error) {
	return defaultInfoQuestions(in), nil
}

func (a *Segmentation) Plan(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (*domain.ActionPlan, error) {
	tags, err := a.deps.Platform.Tags(ctx, acct.ID())
	if err != nil {
		return nil, err
	}
	autos, err := a.deps.Platform.Automations(ctx, acct.ID())
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("EXISTING TAGS: ")
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	if len(names) == 0 {
		b.WriteString("none")
	}
	b.WriteString(strings.Join(names, ", "))
	b.WriteString("\nAUTOMATIONS:\n")
	if len(autos) == 0 {
		b.WriteString("  none\n")
	}
	for _, au := range autos {
		fmt.Fprintf(&b, "  - ID: %s | %q | trigger %s | active %t\n", au.ID, au.Name, au.Trigger, au.Active)
	}
	prompt := a.planPrompt(segmentationProfile, in, acct, pctx, b.String())
	return a.createPlan(ctx, segmentationProfile, in, acct, pctx, prompt)
}

func (a *Segmentation) Advise(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (Result, error) {
	return a.advise(ctx, segmentationProfile, in, acct, pctx)
}

func (a *Segmentation) Execute(ctx context.Context, p *domain.ActionPlan, acct Account) (Result, error) {
	return a.executePlan(ctx, a.Name(), p, a.executor(acct), reportJoined)
}

func (a *Segmentation) executor(acct Account) plan.StepExecutor {
	userID := acct.ID()
	pf := a.deps.Platform
	return plan.StepFunc(func(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error) {
		switch cfg := step.Config.(type) {
		case *domain.AnalyzeTagDistributionConfig:
			return a.tagDistribution(ctx, userID)

		case *domain.AnalyzeScoreDistributionConfig:
			return a.scoreDistribution(ctx, userID, cfg)

		case *domain.CreateTagConfig:
			if err := pf.CreateTag(ctx, userID, platform.Tag{Name: cfg.Name, Description: cfg.Description}); err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("🏷️ Tag %q created", cfg.Name), map[string]any{"tag": cfg.Name}), nil

		case *domain.ApplyTagConfig:
			tag := firstNonEmpty(cfg.Tag, priorString(p, "create_tag", "tag"))
			n, err := pf.ApplyTag(ctx, userID, tag, cfg.ContactIDs, cfg.MinScore)
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("🏷️ Tag %q applied to %d contacts", tag, n), map[string]any{"tagged": n}), nil

		case *domain.SuggestSegmentsConfig:
			return a.suggestSegments(ctx, acct, cfg)

		case *domain.AutomationStatsConfig:
			return a.automationStats(ctx, userID, cfg)

		case *domain.CreateAutomationConfig:
			au, err := pf.CreateAutomation(ctx, userID, platform.Automation{
				Name: cfg.Name, Trigger: cfg.Trigger, Actions: cfg.Actions, Active: cfg.Active,
			})
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("⚙️ Automation %q created (%s)", au.Name, activeLabel(au.Active)), map[string]any{"automation_id": au.ID}), nil

		case *domain.UpdateAutomationConfig:
			id := firstNonEmpty(cfg.AutomationID, priorString(p, "create_automation", "automation_id"))
			if id == "" {
				return nil, brainErrors.InvalidInput("update_automation needs automation_id")
			}
			au, err := pf.UpdateAutomation(ctx, userID, platform.Automation{
				ID: id, Name: cfg.Name, Trigger: cfg.Trigger, Actions: cfg.Actions,
			})
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("⚙️ Automation %q updated", au.Name), map[string]any{"automation_id": au.ID}), nil

		case *domain.ToggleAutomationConfig:
			id := firstNonEmpty(cfg.AutomationID, priorString(p, "create_automation", "automation_id"))
			if id == "" {
				return nil, brainErrors.InvalidInput("toggle_automation needs automation_id")
			}
			au, err := pf.ToggleAutomation(ctx, userID, id, cfg.Active)
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("⚙️ Automation %q is now %s", au.Name, activeLabel(au.Active)), map[string]any{"automation_id": au.ID}), nil

		case *domain.DeleteAutomationConfig:
			if cfg.AutomationID == "" {
				return nil, brainErrors.InvalidInput("delete_automation needs automation_id")
			}
			if err := pf.DeleteAutomation(ctx, userID, cfg.AutomationID); err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("🗑️ Automation %s deleted", cfg.AutomationID), nil), nil

		case *domain.ListAutomationsConfig:
			autos, err := pf.Automations(ctx, userID)
			if err != nil {
				return nil, err
			}
			if len(autos) == 0 {
				return done("No automations yet.", nil), nil
			}
			var b strings.Builder
			b.WriteString("⚙️ **Automations**\n")
			for _, au := range autos {
				fmt.Fprintf(&b, "\n  • %s (%s): trigger %s, %d runs", au.Name, activeLabel(au.Active), orDefault(au.Trigger, "manual"), au.Runs)
			}
			return done(b.String(), nil), nil
		}
		return nil, unsupported(step)
	})
}

func activeLabel(active bool) string {
	if active {
		return "active"
	}
	return "inactive"
}

func (a *Segmentation) tagDistribution(ctx context.Context, userID string) (map[string]any, error) {
	contacts, err := a.deps.Platform.SearchContacts(ctx, userID, platform.ContactQuery{})
	if err != nil {
		return nil, err
	}
	counts := map[string]int{}
	untagged := 0
	for _, c := range contacts {
		if len(c.Tags) == 0 {
			untagged++
		}
		for _, t := range c.Tags {
			counts[t]++
		}
	}
	tags := make([]string, 0, len(counts))
	for t := range counts {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool {
		if counts[tags[i]] != counts[tags[j]] {
			return counts[tags[i]] > counts[tags[j]]
		}
		return tags[i] < tags[j]
	})

	var b strings.Builder
	fmt.Fprintf(&b, "🏷️ **Tag distribution** (%d contacts)\n", len(contacts))
	for _, t := range tags {
		fmt.Fprintf(&b, "\n  • %s: %d (%.1f%%)", t, counts[t], share(counts[t], len(contacts)))
	}
	fmt.Fprintf(&b, "\n  • untagged: %d (%.1f%%)", untagged, share(untagged, len(contacts)))
	return done(b.String(), map[string]any{"tags": counts, "untagged": untagged}), nil
}

func share(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}

type scoreBucket struct {
	label string
	min   int
	max   int
	count int
}

// scoreBuckets turns ascending upper bounds into closed ranges. The last
// range is open ended.
func scoreBuckets(bounds []int) []scoreBucket {
	clean := make([]int, 0, len(bounds))
	for _, b := range bounds {
		if b > 0 && (len(clean) == 0 || b > clean[len(clean)-1]) {
			clean = append(clean, b)
		}
	}
	if len(clean) == 0 {
		clean = defaultScoreBuckets
	}
	named := len(clean) == len(defaultScoreBuckets)
	labels := []string{"🧊 Cold", "🌤️ Warm", "🔥 Hot", "🚀 Super hot"}

	out := make([]scoreBucket, 0, len(clean)+1)
	lo := 0
	for i, hi := range clean {
		label := fmt.Sprintf("%d-%d", lo, hi)
		if named {
			label = fmt.Sprintf("%s (%d-%d)", labels[i], lo, hi)
		}
		out = append(out, scoreBucket{label: label, min: lo, max: hi})
		lo = hi + 1
	}
	last := fmt.Sprintf("%d+", lo)
	if named {
		last = fmt.Sprintf("%s (%d+)", labels[len(labels)-1], lo)
	}
	return append(out, scoreBucket{label: last, min: lo, max: math.MaxInt})
}

func (a *Segmentation) scoreDistribution(ctx context.Context, userID string, cfg *domain.AnalyzeScoreDistributionConfig) (map[string]any, error) {
	contacts, err := a.deps.Platform.SearchContacts(ctx, userID, platform.ContactQuery{})
	if err != nil {
		return nil, err
	}
	buckets := scoreBuckets(cfg.Buckets)
	for _, c := range contacts {
		for i := range buckets {
			if c.Score >= buckets[i].min && c.Score <= buckets[i].max {
				buckets[i].count++
				break
			}
		}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🎯 **Score segments** (%d contacts)\n", len(contacts))
	counts := make(map[string]any, len(buckets))
	for _, bk := range buckets {
		fmt.Fprintf(&b, "\n%s: %d (%.1f%%)", bk.label, bk.count, share(bk.count, len(contacts)))
		counts[bk.label] = bk.count
	}
	return done(b.String(), map[string]any{"buckets": counts}), nil
}

func (a *Segmentation) suggestSegments(ctx context.Context, acct Account, cfg *domain.SuggestSegmentsConfig) (map[string]any, error) {
	stats, err := a.deps.Platform.Stats(ctx, acct.ID())
	if err != nil {
		return nil, err
	}
	tags, err := a.deps.Platform.Tags(ctx, acct.ID())
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(tags))
	for i, t := range tags {
		if i == 10 {
			break
		}
		names = append(names, t.Name)
	}
	goal := ""
	if cfg.Goal != "" {
		goal = "Goal: " + cfg.Goal + "\n"
	}
	prompt := fmt.Sprintf(`You are a marketing segmentation expert. Based on the user's data, suggest segments.

Subscribers: %d active
CRM contacts: %d (hot leads: %d)
Existing tags: %s
%s
%s

Suggest 3-5 new segments with criteria and recommended actions. Use emoji. Be specific.`,
		stats.Subscribers, stats.Contacts, stats.HotLeads, orDefault(strings.Join(names, ", "), "none"), goal, languageInstruction(acct))

	text, err := a.generate(ctx, acct, domain.TaskSegmentation, prompt, 4000, 0.6)
	if err != nil {
		return nil, err
	}
	return done(strings.TrimSpace(text), nil), nil
}

func (a *Segmentation) automationStats(ctx context.Context, userID string, cfg *domain.AutomationStatsConfig) (map[string]any, error) {
	autos, err := a.deps.Platform.Automations(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cfg.AutomationID != "" {
		var match []*platform.Automation
		for _, au := range autos {
			if au.ID == cfg.AutomationID {
				match = append(match, au)
			}
		}
		if len(match) == 0 {
			return nil, brainErrors.NotFound(fmt.Sprintf("automation %s not found", cfg.AutomationID))
		}
		autos = match
	}
	active, runs := 0, 0
	for _, au := range autos {
		if au.Active {
			active++
		}
		runs += au.Runs
	}
	msg := fmt.Sprintf("⚙️ **Automation stats**\n\nRules: %d active of %d\nRuns: %d", active, len(autos), runs)
	return done(msg, map[string]any{"active": active, "total": len(autos), "runs": runs}), nil
}
