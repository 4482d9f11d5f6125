package agent

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/plan"
	"github.com/harunnryd/brain/internal/platform"
	"github.com/harunnryd/brain/internal/structured"
)

var campaignProfile = profile{
	name: "campaign",
	role: "You are an email marketing expert.",
	task: domain.TaskCampaign,
	actions: []string{
		"select_audience", "generate_content", "create_message", "schedule_send",
		"analyze_results", "create_ab_test", "check_ab_results", "list_ab_tests",
	},
	docs: `- select_audience: select the target audience (config: {list_ids: ["id"], tags: ["tag"]})
- generate_content: generate message content (config: {message_type: "email"|"sms", tone: "", topic: "", goal: ""})
- create_message: create the message in the system (config: {subject: "", list_ids: ["id"]})
- schedule_send: schedule sending (config: {send_at: "YYYY-MM-DD HH:MM"|"immediate", message_id: "id"})
- analyze_results: analyze results after sending (config: {message_id: "id"})
- create_ab_test: create an A/B test for a message (config: {message_id: "id", metric: "open_rate"|"click_rate", split_percent: 20, variants: [{subject: ""}, {subject: ""}]})
- check_ab_results: check the results of an A/B test (config: {test_id: "id"})
- list_ab_tests: list A/B tests with status (config: {status: ""})
NOTE: never send to every subscriber; always select a list or segment.
`,
}

// Campaign plans and runs email campaigns and A/B tests.
type Campaign struct {
	*Base
}

func NewCampaign(base *Base) *Campaign {
	return &Campaign{Base: base}
}

func (a *Campaign) Name() string { return campaignProfile.name }

func (a *Campaign) Description() string {
	return "Plans, creates and schedules email campaigns, drip sequences and A/B tests."
}

func (a *Campaign) Capabilities() []string {
	return []string{
		"create_campaign", "plan_drip_sequence", "analyze_campaign_results",
		"optimize_send_time", "suggest_audience", "schedule_campaign",
		"create_ab_test", "check_ab_results", "list_ab_tests",
	}
}

func (a *Campaign) ActionTypes() []string { return campaignProfile.actions }

// NeedsMoreInfo requires a topic, goal or product unless the user already
// answered the info request.
func (a *Campaign) NeedsMoreInfo(in domain.Intent, channel string) bool {
	if isAutonomous(in, channel) || hasUserDetails(in) {
		return false
	}
	return !in.HasAnyParam("topic", "goal", "product")
}

func (a *Campaign) InfoQuestions(ctx context.Context, in domain.Intent, acct Account) (string, error) {
	var b strings.Builder
	b.WriteString("📧 To plan this campaign I need a few details:\n\n")
	b.WriteString("1. 🎯 What is the goal (sale, education, event, reactivation)?\n")
	b.WriteString("2. 📝 What is the topic or product?\n")
	b.WriteString("3. 🎨 Which tone should it have (professional, friendly, urgent)?\n")
	b.WriteString("4. 👥 Who is the audience?\n")

	lists, err := a.listsBlock(ctx, acct.ID(), "• ")
	if err != nil {
		return "", err
	}
	if lists != "" {
		b.WriteString("\nYour lists:\n" + lists)
	}
	b.WriteString("\n5. 📅 When should it go out?\n\nAnswer in one message and I will prepare the plan.")
	return b.String(), nil
}

func (a *Campaign) Plan(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (*domain.ActionPlan, error) {
	lists, err := a.listsBlock(ctx, acct.ID(), "  - ")
	if err != nil {
		return nil, err
	}
	listsBlock := "AVAILABLE MAILING LISTS: none"
	if lists != "" {
		listsBlock = "AVAILABLE MAILING LISTS:\n" + lists
	}
	crmBlock, err := a.crmSegmentsBlock(ctx, acct.ID())
	if err != nil {
		return nil, err
	}
	prompt := a.planPrompt(campaignProfile, in, acct, pctx, listsBlock, crmBlock)
	return a.createPlan(ctx, campaignProfile, in, acct, pctx, prompt)
}

func (a *Campaign) Advise(ctx context.Context, in domain.Intent, acct Account, pctx PlanContext) (Result, error) {
	return a.advise(ctx, campaignProfile, in, acct, pctx)
}

func (a *Campaign) Execute(ctx context.Context, p *domain.ActionPlan, acct Account) (Result, error) {
	return a.executePlan(ctx, a.Name(), p, a.executor(acct), reportChecklist)
}

// listsBlock renders the user's lists by subscriber count, largest first.
func (a *Campaign) listsBlock(ctx context.Context, userID, bullet string) (string, error) {
	ranked, err := rankedLists(ctx, a.deps.Platform, userID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for i, l := range ranked {
		if i == 20 {
			break
		}
		fmt.Fprintf(&b, "%sID: %s | %q | %d subscribers\n", bullet, l.list.ID, l.list.Name, l.subscribers)
	}
	return b.String(), nil
}

func (a *Campaign) crmSegmentsBlock(ctx context.Context, userID string) (string, error) {
	all, err := a.deps.Platform.SearchContacts(ctx, userID, platform.ContactQuery{})
	if err != nil {
		return "", err
	}
	if len(all) == 0 {
		return "CRM CONTACTS: none", nil
	}
	var hot, qualified, leads int
	for _, c := range all {
		if c.Score >= platform.HotLeadScore {
			hot++
		}
		switch c.Status {
		case "qualified":
			qualified++
		case "lead":
			leads++
		}
	}
	return fmt.Sprintf("CRM CONTACT SEGMENTS (target them with tags in select_audience):\n"+
		"  - all: %d contacts\n  - hot leads: %d (score >= %d)\n  - warm: %d (qualified)\n  - cold: %d (lead)",
		len(all), hot, platform.HotLeadScore, qualified, leads), nil
}

type rankedList struct {
	list        *platform.List
	subscribers int
}

func rankedLists(ctx context.Context, pf platform.Platform, userID string) ([]rankedList, error) {
	lists, err := pf.Lists(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]rankedList, 0, len(lists))
	for _, l := range lists {
		n, err := pf.SubscriberCount(ctx, userID, []string{l.ID})
		if err != nil {
			return nil, err
		}
		out = append(out, rankedList{list: l, subscribers: n})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].subscribers > out[j].subscribers })
	return out, nil
}

func (a *Campaign) executor(acct Account) plan.StepExecutor {
	userID := acct.ID()
	return plan.StepFunc(func(ctx context.Context, p *domain.ActionPlan, step *domain.ActionPlanStep) (map[string]any, error) {
		switch cfg := step.Config.(type) {
		case *domain.SelectAudienceConfig:
			return a.selectAudience(ctx, userID, cfg)
		case *domain.GenerateContentConfig:
			return a.generateContent(ctx, acct, cfg)
		case *domain.CreateMessageConfig:
			return a.createMessage(ctx, userID, p, cfg)
		case *domain.ScheduleSendConfig:
			return a.scheduleSend(ctx, acct, p, cfg)
		case *domain.AnalyzeResultsConfig:
			return a.analyzeResults(ctx, userID, p, cfg)
		case *domain.CreateABTestConfig:
			return a.createABTest(ctx, userID, p, cfg)
		case *domain.CheckABResultsConfig:
			return a.checkABResults(ctx, userID, cfg)
		case *domain.ListABTestsConfig:
			return a.listABTests(ctx, userID, cfg)
		}
		return nil, unsupported(step)
	})
}

func (a *Campaign) selectAudience(ctx context.Context, userID string, cfg *domain.SelectAudienceConfig) (map[string]any, error) {
	pf := a.deps.Platform
	var selected []string
	var names []string

	if len(cfg.ListIDs) > 0 {
		lists, err := pf.Lists(ctx, userID)
		if err != nil {
			return nil, err
		}
		byID := make(map[string]*platform.List, len(lists))
		for _, l := range lists {
			byID[l.ID] = l
		}
		for _, id := range cfg.ListIDs {
			if l, ok := byID[id]; ok {
				selected = append(selected, id)
				names = append(names, l.Name)
			}
		}
	} else if len(cfg.Tags) == 0 {
		ranked, err := rankedLists(ctx, pf, userID)
		if err != nil {
			return nil, err
		}
		for i, r := range ranked {
			if i == 3 {
				break
			}
			selected = append(selected, r.list.ID)
			names = append(names, r.list.Name)
		}
	}

	subscribers, err := pf.SubscriberCount(ctx, userID, selected)
	if err != nil {
		return nil, err
	}

	var contactIDs []string
	for _, tag := range cfg.Tags {
		contacts, err := pf.SearchContacts(ctx, userID, platform.ContactQuery{Tag: tag})
		if err != nil {
			return nil, err
		}
		for _, c := range contacts {
			if c.SubscriberStatus == platform.SubscriberActive {
				contactIDs = append(contactIDs, c.ID)
			}
		}
	}

	if len(selected) == 0 && len(contactIDs) == 0 {
		return nil, brainErrors.InvalidInput("no audience matches the selection")
	}

	var parts []string
	if len(selected) > 0 {
		parts = append(parts, fmt.Sprintf("Selected %d lists with %d subscribers (%s)", len(selected), subscribers, strings.Join(names, ", ")))
	}
	if len(contactIDs) > 0 {
		parts = append(parts, fmt.Sprintf("Selected %d tagged contacts (%s)", len(contactIDs), strings.Join(cfg.Tags, ", ")))
	}
	return done(strings.Join(parts, "\n"), map[string]any{
		"selected_lists":    selected,
		"total_subscribers": subscribers + len(contactIDs),
		"contact_ids":       contactIDs,
	}), nil
}

type generatedContent struct {
	Subject     string `json:"subject"`
	PreviewText string `json:"preview_text"`
	Content     string `json:"content"`
	CTAText     string `json:"cta_text"`
	Variants    []struct {
		Subject string `json:"subject"`
	} `json:"variants"`
}

func (a *Campaign) generateContent(ctx context.Context, acct Account, cfg *domain.GenerateContentConfig) (map[string]any, error) {
	kb, err := a.deps.Knowledge.GetContext(ctx, acct.ID(), knowledge.ProfileMessage)
	if err != nil {
		return nil, err
	}
	msgType := cfg.MessageType
	if msgType == "" {
		msgType = "email"
	}
	tone := cfg.Tone
	if tone == "" {
		tone = "professional"
	}
	topic := strings.TrimSpace(cfg.Topic + " " + cfg.Goal)

	prompt := fmt.Sprintf(`Generate %s marketing message content.

Topic/goal: %s
Tone: %s

%s

%s

Respond in JSON:
{
  "subject": "message subject (for email)",
  "preview_text": "preview text (for email)",
  "content": "message content (HTML for email, text for SMS)",
  "cta_text": "CTA button text",
  "variants": [{"subject": "alternative subject 1"}, {"subject": "alternative subject 2"}]
}`, msgType, topic, tone, kb, languageInstruction(acct))

	raw, err := a.generate(ctx, acct, domain.TaskContentGeneration, prompt, 6000, 0.7)
	if err != nil {
		return nil, err
	}
	var content generatedContent
	if _, err := structured.DecodeObject(raw, &content); err != nil {
		return nil, err
	}
	if strings.TrimSpace(content.Content) == "" {
		return nil, brainErrors.InvalidModelOutput("generated content is empty")
	}
	return done(fmt.Sprintf("Generated %s content: %q", msgType, content.Subject), map[string]any{
		"subject":      content.Subject,
		"preview_text": content.PreviewText,
		"content":      content.Content,
		"cta_text":     content.CTAText,
		"message_type": msgType,
	}), nil
}

func (a *Campaign) createMessage(ctx context.Context, userID string, p *domain.ActionPlan, cfg *domain.CreateMessageConfig) (map[string]any, error) {
	subject := cfg.Subject
	if subject == "" {
		subject = priorString(p, "generate_content", "subject")
	}
	if subject == "" {
		subject = p.Title
	}
	content := cfg.Content
	if content == "" {
		content = priorString(p, "generate_content", "content")
	}
	msgType := cfg.MessageType
	if msgType == "" {
		msgType = "email"
	}
	lists := cfg.ListIDs
	if len(lists) == 0 {
		lists = priorStrings(p, "select_audience", "selected_lists")
	}

	msg, err := a.deps.Platform.CreateMessage(ctx, userID, platform.Message{
		Subject: subject,
		Content: content,
		Type:    msgType,
		ListIDs: lists,
	})
	if err != nil {
		return nil, err
	}
	return done(fmt.Sprintf("Message %q created as draft (ID %s)", subject, msg.ID), map[string]any{
		"message_id": msg.ID,
	}), nil
}

var sendAtLayouts = []string{"2006-01-02 15:04", "2006-01-02T15:04", time.RFC3339, "2006-01-02"}

func parseSendAt(value string, loc *time.Location) (time.Time, bool) {
	for _, layout := range sendAtLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (a *Campaign) scheduleSend(ctx context.Context, acct Account, p *domain.ActionPlan, cfg *domain.ScheduleSendConfig) (map[string]any, error) {
	userID := acct.ID()
	messageID := cfg.MessageID
	if messageID == "" {
		messageID = priorString(p, "create_message", "message_id")
	}
	if messageID == "" {
		return done("Message is ready; schedule it manually in the panel.", nil), nil
	}

	msg, err := a.deps.Platform.Message(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	lists := msg.ListIDs
	if len(lists) == 0 {
		lists = priorStrings(p, "select_audience", "selected_lists")
	}
	if len(lists) == 0 {
		return nil, brainErrors.InvalidInput("schedule_send needs a target list")
	}

	sendAt := strings.TrimSpace(cfg.SendAt)
	switch {
	case strings.EqualFold(sendAt, "immediate"):
		sent, err := a.deps.Platform.ScheduleMessage(ctx, userID, messageID, time.Time{}, lists)
		if err != nil {
			return nil, err
		}
		return done(fmt.Sprintf("Message %q sent to %d subscribers", sent.Subject, sent.Stats.Sent), map[string]any{
			"message_id": sent.ID,
			"sent":       sent.Stats.Sent,
		}), nil
	case sendAt != "":
		at, ok := parseSendAt(sendAt, acct.User.Location())
		if !ok {
			return nil, brainErrors.InvalidInput(fmt.Sprintf("cannot parse send_at %q", sendAt))
		}
		scheduled, err := a.deps.Platform.ScheduleMessage(ctx, userID, messageID, at, lists)
		if err != nil {
			return nil, err
		}
		return done(fmt.Sprintf("Message %q scheduled for %s", scheduled.Subject, at.Format("02.01.2006 15:04")), map[string]any{
			"message_id":   scheduled.ID,
			"scheduled_at": at.Format(time.RFC3339),
		}), nil
	}

	msg.ListIDs = lists
	if err := a.deps.Platform.UpdateMessage(ctx, userID, msg); err != nil {
		return nil, err
	}
	return done(fmt.Sprintf("Message %q is ready as a draft for %d lists", msg.Subject, len(lists)), map[string]any{
		"message_id": msg.ID,
	}), nil
}

func (a *Campaign) analyzeResults(ctx context.Context, userID string, p *domain.ActionPlan, cfg *domain.AnalyzeResultsConfig) (map[string]any, error) {
	messageID := cfg.MessageID
	if messageID == "" {
		messageID = priorString(p, "create_message", "message_id")
	}
	if messageID == "" {
		return nil, brainErrors.InvalidInput("analyze_results needs a message")
	}
	msg, err := a.deps.Platform.Message(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Status != platform.MessageSent {
		return done(fmt.Sprintf("Message %q is not sent yet; results will be reviewed after sending.", msg.Subject), map[string]any{
			"message_id": msg.ID,
		}), nil
	}
	s := msg.Stats
	return done(fmt.Sprintf("%q: sent %d, open rate %.2f%%, click rate %.2f%%, unsubscribes %d",
		msg.Subject, s.Sent, percent(s.Opens, s.Sent), percent(s.Clicks, s.Sent), s.Unsubscribes), map[string]any{
		"message_id": msg.ID,
		"open_rate":  percent(s.Opens, s.Sent),
		"click_rate": percent(s.Clicks, s.Sent),
	}), nil
}

func (a *Campaign) createABTest(ctx context.Context, userID string, p *domain.ActionPlan, cfg *domain.CreateABTestConfig) (map[string]any, error) {
	messageID := cfg.MessageID
	if messageID == "" {
		messageID = priorString(p, "create_message", "message_id")
	}
	if messageID == "" {
		return nil, brainErrors.InvalidInput("create_ab_test needs a message; create one first")
	}
	msg, err := a.deps.Platform.Message(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}

	variants := make([]platform.Variant, 0, len(cfg.Variants))
	for _, v := range cfg.Variants {
		subject := v.Subject
		if subject == "" {
			subject = msg.Subject
		}
		variants = append(variants, platform.Variant{Subject: subject, Content: v.Content})
	}
	if len(variants) < 2 {
		variants = []platform.Variant{
			{Subject: msg.Subject},
			{Subject: msg.Subject + " (check it out!)"},
		}
	}

	split := cfg.SplitPercent
	if split == 0 {
		split = 20
	}
	split = min(50, max(5, split))

	test, err := a.deps.Platform.CreateABTest(ctx, userID, platform.ABTest{
		MessageID:    messageID,
		Variants:     variants,
		SplitPercent: split,
		Metric:       cfg.Metric,
	})
	if err != nil {
		return nil, err
	}

	lines := make([]string, 0, len(test.Variants))
	for i, v := range test.Variants {
		lines = append(lines, fmt.Sprintf("%s: %q", variantLetter(i), v.Subject))
	}
	return done(fmt.Sprintf("A/B test %s created: %d variants, %d%% sample, metric %s\n  %s",
		test.ID, len(test.Variants), test.SplitPercent, test.Metric, strings.Join(lines, "\n  ")), map[string]any{
		"ab_test_id": test.ID,
	}), nil
}

func (a *Campaign) checkABResults(ctx context.Context, userID string, cfg *domain.CheckABResultsConfig) (map[string]any, error) {
	var test *platform.ABTest
	if cfg.TestID != "" {
		t, err := a.deps.Platform.ABTest(ctx, userID, cfg.TestID)
		if err != nil {
			return nil, err
		}
		test = t
	} else {
		tests, err := a.deps.Platform.ABTests(ctx, userID, "")
		if err != nil {
			return nil, err
		}
		if len(tests) == 0 {
			return nil, brainErrors.NotFound("no A/B tests yet")
		}
		test = tests[len(tests)-1]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🧪 A/B test %s (%s)\n\n", test.ID, strings.ToUpper(test.Status))
	winner, best := -1, -1.0
	for i, v := range test.Variants {
		or, cr := percent(v.Opens, v.Sent), percent(v.Clicks, v.Sent)
		fmt.Fprintf(&b, "**%s**: sent %d | OR %.2f%% | CR %.2f%%\n", variantLetter(i), v.Sent, or, cr)
		score := or
		if test.Metric == "click_rate" {
			score = cr
		}
		if v.Sent > 0 && score > best {
			winner, best = i, score
		}
	}
	result := map[string]any{"ab_test_id": test.ID}
	if winner >= 0 {
		fmt.Fprintf(&b, "\n🏆 Variant %s leads on %s", variantLetter(winner), test.Metric)
		result["winner"] = variantLetter(winner)
	} else {
		b.WriteString("\n⏳ No sends recorded yet.")
	}
	return done(b.String(), result), nil
}

func (a *Campaign) listABTests(ctx context.Context, userID string, cfg *domain.ListABTestsConfig) (map[string]any, error) {
	tests, err := a.deps.Platform.ABTests(ctx, userID, cfg.Status)
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return done("No A/B tests yet.", nil), nil
	}
	if len(tests) > 10 {
		tests = tests[len(tests)-10:]
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🧪 %d A/B tests:\n", len(tests))
	for i := len(tests) - 1; i >= 0; i-- {
		t := tests[i]
		icon := "📝"
		switch t.Status {
		case "running":
			icon = "🟢"
		case "completed":
			icon = "✅"
		}
		fmt.Fprintf(&b, "%s #%s | %d variants | metric %s | %s\n", icon, t.ID, len(t.Variants), t.Metric, t.CreatedAt.Format("02.01.2006 15:04"))
	}
	return done(strings.TrimRight(b.String(), "\n"), map[string]any{"count": len(tests)}), nil
}

func variantLetter(i int) string {
	return string(rune('A' + i))
}

// percent returns n/total as a percentage rounded to two decimals.
func percent(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*10000) / 100
}
