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

var crmProfile = profile{
	name: "crm",
	role: "You are a CRM and sales pipeline expert.",
	task: domain.TaskCRM,
	actions: []string{
		"search_contacts", "create_contact", "update_contact_status", "create_deal",
		"move_deal_stage", "create_task", "score_analysis", "pipeline_summary", "create_company",
	},
	docs: `- search_contacts: search contacts (config: {query: "", status: "lead"|"prospect"|"client", min_score: N})
- create_contact: create a CRM contact (config: {email: "", first_name: "", last_name: "", company: "", status: "lead"})
- update_contact_status: change a contact status (config: {contact_id: "id", email: "", status: "prospect"|"client"})
- create_deal: create a deal in the pipeline (config: {title: "", value: N, contact_id: "id", stage: ""})
- move_deal_stage: move a deal to a stage (config: {deal_id: "id", stage: ""})
- create_task: create a CRM task (config: {title: "", priority: "low"|"medium"|"high", contact_id: "id", deal_id: "id", due_at: "YYYY-MM-DD"})
- score_analysis: analyze lead scoring (config: {min_score: N})
- pipeline_summary: summarize the pipeline (config: {})
- create_company: create a company (config: {name: "", domain: "", industry: ""})
`,
}

// CRM manages contacts, deals, tasks and companies.
type CRM struct {
	*Base
}

func NewCRM(base *Base) *CRM {
	return &CRM{Base: base}
}

func (a *CRM) Name() string { return crmProfile.name }

func (a *CRM) Description() string {
	return "Manages CRM contacts, deals, tasks, companies and lead scoring."
}

func (a *CRM) Capabilities() []string {
	return []string{"manage_contacts", "manage_deals", "manage_tasks", "pipeline_overview", "contact_scoring", "create_company"}
}

func (a *CRM) ActionTypes() []string { return crmProfile.actions }

func (a *CRM) NeedsMoreInfo(in domain.Intent, channel string) bool {
	return defaultNeedsMoreInfo(in, channel)
}

func (a *CRM) InfoQuestions(_ context.Context, in domain.Intent, _ Account) (string, error) {
	return defaultInfoQuestions(in), nil
}

func (a *CRM) Plan(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (*domain.ActionPlan, error) {
	summary, err := a.pipelineText(ctx, acct.ID())
	if err != nil {
		return nil, err
	}
	prompt := a.planPrompt(crmProfile, in, acct, pctx, "CURRENT PIPELINE:\n"+summary)
	return a.createPlan(ctx, crmProfile, in, acct, pctx, prompt)
}

func (a *CRM) Advise(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (Result, error) {
	return a.advise(ctx, crmProfile, in, acct, pctx)
}

func (a *CRM) Execute(ctx context.Context, p *domain.ActionPlan, acct Account) (Result, error) {
	return a.executePlan(ctx, a.Name(), p, a.executor(acct.ID()), reportChecklist)
}

func (a *CRM) executor(userID string) plan.StepExecutor {
	pf := a.deps.Platform
	return plan.StepFunc(func(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error) {
		switch cfg := step.Config.(type) {
		case *domain.SearchContactsConfig:
			contacts, err := pf.SearchContacts(ctx, userID, platform.ContactQuery{
				Text: cfg.Query, Status: cfg.Status, MinScore: cfg.MinScore, Limit: 20,
			})
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(contacts))
			lines := make([]string, 0, len(contacts))
			for _, c := range contacts {
				ids = append(ids, c.ID)
				lines = append(lines, fmt.Sprintf("  • %s (%s, score %d)", contactName(c), c.Status, c.Score))
			}
			msg := fmt.Sprintf("Found %d contacts", len(contacts))
			if len(lines) > 0 {
				msg += ":\n" + strings.Join(lines, "\n")
			}
			return done(msg, map[string]any{"contact_ids": ids}), nil

		case *domain.CreateContactConfig:
			c, err := pf.CreateContact(ctx, userID, platform.Contact{
				Email: cfg.Email, FirstName: cfg.FirstName, LastName: cfg.LastName,
				Company: cfg.Company, Status: cfg.Status,
			})
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("Contact %s created", c.Email), map[string]any{"contact_id": c.ID}), nil

		case *domain.UpdateContactStatusConfig:
			contactID := cfg.ContactID
			if contactID == "" && cfg.Email == "" {
				contactID = priorString(p, "create_contact", "contact_id")
			}
			c, err := pf.UpdateContactStatus(ctx, userID, contactID, cfg.Email, cfg.Status)
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("%s is now %s", contactName(c), c.Status), map[string]any{"contact_id": c.ID}), nil

		case *domain.CreateDealConfig:
			contactID := cfg.ContactID
			if contactID == "" {
				contactID = priorString(p, "create_contact", "contact_id")
			}
			d, err := pf.CreateDeal(ctx, userID, platform.Deal{
				Title: cfg.Title, ContactID: contactID, Value: cfg.Value, Stage: cfg.Stage,
			})
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("Deal %q created at stage %s (value %.2f)", d.Title, d.Stage, d.Value), map[string]any{"deal_id": d.ID}), nil

		case *domain.MoveDealStageConfig:
			dealID := cfg.DealID
			if dealID == "" {
				dealID = priorString(p, "create_deal", "deal_id")
			}
			if dealID == "" || cfg.Stage == "" {
				return nil, brainErrors.InvalidInput("move_deal_stage needs deal_id and stage")
			}
			d, err := pf.MoveDealStage(ctx, userID, dealID, cfg.Stage)
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("Deal %q moved to %s", d.Title, d.Stage), map[string]any{"deal_id": d.ID}), nil

		case *domain.CreateTaskConfig:
			t, err := pf.CreateTask(ctx, userID, platform.Task{
				Title: cfg.Title, ContactID: cfg.ContactID, DealID: cfg.DealID, DueAt: cfg.DueAt, Priority: cfg.Priority,
			})
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("Task %q created", t.Title), map[string]any{"task_id": t.ID}), nil

		case *domain.ScoreAnalysisConfig:
			return a.scoreAnalysis(ctx, userID, cfg)

		case *domain.PipelineSummaryConfig:
			text, err := a.pipelineText(ctx, userID)
			if err != nil {
				return nil, err
			}
			return done("📊 Pipeline\n\n"+text, nil), nil

		case *domain.CreateCompanyConfig:
			c, err := pf.CreateCompany(ctx, userID, platform.Company{Name: cfg.Name, Domain: cfg.Domain, Industry: cfg.Industry})
			if err != nil {
				return nil, err
			}
			return done(fmt.Sprintf("Company %q created", c.Name), map[string]any{"company_id": c.ID}), nil
		}
		return nil, unsupported(step)
	})
}

func (a *CRM) scoreAnalysis(ctx context.Context, userID string, cfg *domain.ScoreAnalysisConfig) (map[string]any, error) {
	all, err := a.deps.Platform.SearchContacts(ctx, userID, platform.ContactQuery{})
	if err != nil {
		return nil, err
	}
	var hot, total int
	var sum float64
	var matching []*platform.Contact
	for _, c := range all {
		total++
		sum += float64(c.Score)
		if c.Score >= platform.HotLeadScore {
			hot++
		}
		if c.Score >= cfg.MinScore {
			matching = append(matching, c)
		}
	}
	sort.SliceStable(matching, func(i, j int) bool { return matching[i].Score > matching[j].Score })
	avg := 0.0
	if total > 0 {
		avg = math.Round(sum/float64(total)*10) / 10
	}

	var b strings.Builder
	b.WriteString("🎯 Lead scoring\n\n")
	fmt.Fprintf(&b, "Contacts: %d\nAverage score: %.1f\nHot leads: %d\n", total, avg, hot)
	if len(matching) > 0 {
		b.WriteString("\nTop contacts:\n")
		for i, c := range matching {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "  • %s: score %d (%s)\n", contactName(c), c.Score, c.Status)
		}
	}
	return done(strings.TrimRight(b.String(), "\n"), map[string]any{
		"total_contacts": total,
		"hot_leads":      hot,
		"avg_score":      avg,
	}), nil
}

// pipelineText groups open deals by stage.
func (a *CRM) pipelineText(ctx context.Context, userID string) (string, error) {
	deals, err := a.deps.Platform.Deals(ctx, userID)
	if err != nil {
		return "", err
	}
	type bucket struct {
		count int
		value float64
	}
	stages := map[string]*bucket{}
	var order []string
	var open int
	var openValue float64
	for _, d := range deals {
		if d.ClosedAt != nil {
			continue
		}
		bk, ok := stages[d.Stage]
		if !ok {
			bk = &bucket{}
			stages[d.Stage] = bk
			order = append(order, d.Stage)
		}
		bk.count++
		bk.value += d.Value
		open++
		openValue += d.Value
	}
	if open == 0 {
		return "No open deals.", nil
	}
	var b strings.Builder
	for _, stage := range order {
		bk := stages[stage]
		fmt.Fprintf(&b, "📌 **%s**: %d deals", stage, bk.count)
		if bk.value > 0 {
			fmt.Fprintf(&b, " (%.2f)", bk.value)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "\nOpen deals: %d, total value %.2f", open, openValue)
	return b.String(), nil
}

func contactName(c *platform.Contact) string {
	name := strings.TrimSpace(c.FirstName + " " + c.LastName)
	if name == "" {
		return c.Email
	}
	return name
}
