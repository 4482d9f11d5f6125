package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/plan"
	"github.com/harunnryd/brain/internal/platform"
)

var listProfile = profile{
	name:    "list",
	role:    "You are an expert in contact list management and deliverability.",
	task:    domain.TaskOrchestration,
	actions: []string{
		"create_list", "clean_bounced", "tag_subscribers", "show_stats",
		domain.ActionDeleteList, domain.ActionDeleteAllSubscribers, domain.ActionChangeDomainSettings,
	},
	docs: `- create_list: create a new list (config: {name: "", description: "", tags: [""]})
- clean_bounced: remove bounced subscribers from a list (config: {list_id: "id"})
- tag_subscribers: tag every active subscriber of a list (config: {list_id: "id", tag: ""})
- show_stats: show list statistics (config: {list_id: "id"}, empty list_id means all lists)
- delete_list: delete a list and detach its subscribers, always needs approval (config: {list_id: "id"})
- delete_all_subscribers: remove every subscriber from a list, always needs approval (config: {list_id: "id"})
- change_domain_settings: change the sending domain or sender identity, always needs approval (config: {domain: "", sender_name: "", sender_email: "", reply_to: ""})
`,
}

// List manages contact lists and their hygiene.
type List struct {
	*Base
}

func NewList(base *Base) *List {
	return &List{Base: base}
}

func (a *List) Name() string { return listProfile.name }

func (a *List) Description() string {
	return "Creates and cleans contact lists, tags subscribers and reports list health."
}

func (a *List) Capabilities() []string {
	return []string{"create_list", "manage_subscribers", "clean_list", "segment_subscribers", "tag_subscribers", "list_stats", "delete_list", "domain_settings"}
}

func (a *List) ActionTypes() []string { return listProfile.actions }

func (a *List) NeedsMoreInfo(in domain.Intent, channel string) bool {
	return defaultNeedsMoreInfo(in, channel)
}

func (a *List) InfoQuestions(_ context.Context, in domain.Intent, _ Account) (string, error) {
	return defaultInfoQuestions(in), nil
}

func (a *List) Plan(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (*domain.ActionPlan, error) {
	ranked, err := rankedLists(ctx, a.deps.Platform, acct.ID())
	if err != nil {
		return nil, err
	}
	var b strings.Builder
	b.WriteString("USER'S LISTS:\n")
	if len(ranked) == 0 {
		b.WriteString("  none\n")
	}
	for _, r := range ranked {
		fmt.Fprintf(&b, "  - ID: %s | %q | %d active subscribers\n", r.list.ID, r.list.Name, r.subscribers)
	}
	prompt := a.planPrompt(listProfile, in, acct, pctx, b.String())
	return a.createPlan(ctx, listProfile, in, acct, pctx, prompt)
}

func (a *List) Advise(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (Result, error) {
	return a.advise(ctx, listProfile, in, acct, pctx)
}

func (a *List) Execute(ctx context.Context, p *domain.ActionPlan, acct Account) (Result, error) {
	return a.executePlan(ctx, a.Name(), p, a.executor(acct.ID()), reportChecklist)
}

func (a *List) executor(userID string) plan.StepExecutor {
	pf := a.deps.Platform
	return plan.StepFunc(func(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error) {
		switch cfg := step.Config.(type) {
		case *domain.CreateListConfig:
			l, err := pf.CreateList(ctx, userID, cfg.Name, cfg.Description, cfg.Tags)
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("List %q created (ID %s)", l.Name, l.ID), map[string]any{"list_id": l.ID}), nil

		case *domain.CleanBouncedConfig:
			listID := cfg.ListID
			if listID == "" {
				listID = priorString(p, "create_list", "list_id")
			}
			if listID == "" {
				return a.cleanAll(ctx, userID)
			}
			removed, err := pf.CleanBounced(ctx, userID, listID)
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("Removed %d bounced subscribers", removed), map[string]any{"removed": removed}), nil

		case *domain.TagSubscribersConfig:
			if strings.TrimSpace(cfg.Tag) == "" {
				return nil, brainErrors.InvalidInput("tag_subscribers requires a tag")
			}
			listID := cfg.ListID
			if listID == "" {
				listID = priorString(p, "create_list", "list_id")
			}
			if listID == "" {
				return nil, brainErrors.InvalidInput("tag_subscribers requires a list")
			}
			n, err := pf.TagSubscribers(ctx, userID, listID, cfg.Tag)
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("Tagged %d subscribers with %q", n, cfg.Tag), map[string]any{"tagged": n}), nil

		case *domain.ShowStatsConfig:
			s, err := pf.ListStats(ctx, userID, cfg.ListID)
			if err != nil {
				return nil, err
			}
			scope := "All lists"
			if cfg.ListID != "" {
				scope = "List " + cfg.ListID
			}
			return done(fmt.Sprintf("📊 %s: %d active, %d bounced, %d unsubscribed", scope, s.Active, s.Bounced, s.Unsubscribed), map[string]any{
				"active":       s.Active,
				"bounced":      s.Bounced,
				"unsubscribed": s.Unsubscribed,
			}), nil

		case *domain.DeleteListConfig:
			n, err := pf.DeleteList(ctx, userID, cfg.ListID)
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("🗑️ List %s deleted, %d subscribers detached", cfg.ListID, n), map[string]any{"detached": n}), nil

		case *domain.DeleteAllSubscribersConfig:
			n, err := pf.DeleteAllSubscribers(ctx, userID, cfg.ListID)
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("🗑️ Removed all %d subscribers from list %s", n, cfg.ListID), map[string]any{"removed": n}), nil

		case *domain.ChangeDomainSettingsConfig:
			s, err := pf.UpdateDomainSettings(ctx, userID, platform.DomainSettings{
				Domain:      cfg.Domain,
				SenderName:  cfg.SenderName,
				SenderEmail: cfg.SenderEmail,
				ReplyTo:     cfg.ReplyTo,
			})
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("Sending domain is now %s (sender %s)", s.Domain, senderLabel(s)), map[string]any{
				"domain":       s.Domain,
				"sender_email": s.SenderEmail,
			}), nil
		}
		return nil, unsupported(step)
	})
}

func (a *List) cleanAll(ctx context.Context, userID string) (map[string]any, error) {
	removed, err := a.deps.Platform.CleanBounced(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	return done(fmt.Sprintf("Removed %d bounced subscribers across all lists", removed), map[string]any{"removed": removed}), nil
}

func senderLabel(s platform.DomainSettings) string {
	switch {
	case s.SenderName != "" && s.SenderEmail != "":
		return fmt.Sprintf("%s <%s>", s.SenderName, s.SenderEmail)
	case s.SenderEmail != "":
		return s.SenderEmail
	case s.SenderName != "":
		return s.SenderName
	}
	return "unchanged"
}
