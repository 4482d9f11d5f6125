package adapter

import (
	"context"
	"fmt"
	"testing"

	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/orchestrator"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		want Command
		ok   bool
	}{
		{in: "/approve 01HX", want: Command{Name: "approve", Args: []string{"01HX"}}, ok: true},
		{in: `/reject 01HX "too pushy for March"`, want: Command{Name: "reject", Args: []string{"01HX", "too pushy for March"}}, ok: true},
		{in: "/mode@BrainBot semi_auto", want: Command{Name: "mode", Args: []string{"semi_auto"}}, ok: true},
		{in: "  /GOALS  ", want: Command{Name: "goals", Args: []string{}}, ok: true},
		{in: `/reject 01HX "unterminated`, want: Command{Name: "reject", Args: []string{"01HX", `"unterminated`}}, ok: true},
		{in: "how are my lists?", ok: false},
		{in: "/", ok: false},
	}
	for _, tc := range cases {
		got, ok := ParseCommand(tc.in)
		if ok != tc.ok {
			t.Fatalf("ParseCommand(%q) ok = %v, want %v", tc.in, ok, tc.ok)
		}
		if !ok {
			continue
		}
		if diff := cmp.Diff(tc.want, got, cmpEmptyArgs); diff != "" {
			t.Fatalf("ParseCommand(%q) mismatch (-want +got):\n%s", tc.in, diff)
		}
	}
}

var cmpEmptyArgs = cmp.Transformer("args", func(args []string) []string {
	if len(args) == 0 {
		return nil
	}
	return args
})

type fakeBrain struct {
	requests  []orchestrator.Request
	approvals []string
}

func (b *fakeBrain) ProcessMessage(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	b.requests = append(b.requests, req)
	return &orchestrator.Response{Type: orchestrator.TypeConversation, Message: "echo: " + req.Text}, nil
}

func (b *fakeBrain) HandleApproval(ctx context.Context, userID, approvalID string, approved bool, reason string) (*orchestrator.Response, error) {
	if approvalID == "missing" {
		return nil, brainErrors.NotFound("approval missing")
	}
	b.approvals = append(b.approvals, fmt.Sprintf("%s %s %v %s", userID, approvalID, approved, reason))
	return &orchestrator.Response{Message: "done " + approvalID}, nil
}

type fakeModes struct{ mode domain.WorkMode }

func (m *fakeModes) Mode(ctx context.Context, userID string) (domain.WorkMode, error) {
	return m.mode, nil
}

func (m *fakeModes) SetMode(ctx context.Context, userID, value string) (*domain.BrainSettings, error) {
	mode, err := domain.ParseWorkMode(value)
	if err != nil {
		return nil, err
	}
	m.mode = mode
	s := domain.DefaultSettings(userID)
	s.WorkMode = mode
	return s, nil
}

func (m *fakeModes) ListPending(ctx context.Context, userID string) ([]*domain.PendingApproval, error) {
	return []*domain.PendingApproval{{ID: "a1", Kind: domain.ApprovalKindPlan, Summary: "Clean list\nsteps..."}}, nil
}

type fakeGoals struct{ text string }

func (g fakeGoals) ActiveGoalsContext(ctx context.Context, userID string) (string, error) {
	return g.text, nil
}

type fakeConversations struct{}

func (fakeConversations) CreateNew(ctx context.Context, userID, channel string) (*domain.Conversation, error) {
	return &domain.Conversation{ID: "c-new", UserID: userID, Channel: channel}, nil
}

type fakeLinker struct{ links []string }

func (l *fakeLinker) LinkChat(ctx context.Context, userID, channel, chatID string) error {
	l.links = append(l.links, userID+"@"+channel+":"+chatID)
	return nil
}

func newTestDispatcher() (*Dispatcher, *fakeBrain, *fakeModes, *fakeLinker) {
	brain := &fakeBrain{}
	modes := &fakeModes{mode: domain.ModeSemiAuto}
	links := &fakeLinker{}
	return NewDispatcher(brain, modes, fakeGoals{}, fakeConversations{}, links), brain, modes, links
}

func inbound(text string) Inbound {
	return Inbound{UserID: "u1", Channel: domain.ChannelTelegram, ChatID: "456", Text: text}
}

func TestDispatcherRoutesChatToOrchestrator(t *testing.T) {
	d, brain, _, links := newTestDispatcher()

	reply, err := d.Handle(context.Background(), inbound("How are my lists?"))
	require.NoError(t, err)
	assert.Equal(t, "echo: How are my lists?", reply)
	require.Len(t, brain.requests, 1)
	assert.Equal(t, domain.ChannelTelegram, brain.requests[0].Channel)
	assert.Equal(t, []string{"u1@telegram:456"}, links.links)
}

func TestDispatcherApprovalCommands(t *testing.T) {
	d, brain, _, _ := newTestDispatcher()
	ctx := context.Background()

	reply, err := d.Handle(ctx, inbound("/approve a1"))
	require.NoError(t, err)
	assert.Equal(t, "done a1", reply)

	_, err = d.Handle(ctx, inbound(`/reject a2 "not this week"`))
	require.NoError(t, err)
	assert.Equal(t, []string{"u1 a1 true ", "u1 a2 false not this week"}, brain.approvals)

	reply, err = d.Handle(ctx, inbound("/approve missing"))
	require.NoError(t, err)
	assert.Contains(t, reply, "⚠️")

	reply, err = d.Handle(ctx, inbound("/approve"))
	require.NoError(t, err)
	assert.Equal(t, "Usage: /approve <id>", reply)

	reply, err = d.Handle(ctx, inbound("/approvals"))
	require.NoError(t, err)
	assert.Contains(t, reply, "- a1 [plan] Clean list")
	assert.NotContains(t, reply, "steps...")
}

func TestDispatcherModeCommand(t *testing.T) {
	d, _, modes, _ := newTestDispatcher()
	ctx := context.Background()

	reply, err := d.Handle(ctx, inbound("/mode autonomous"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Mode set to")
	assert.Equal(t, domain.ModeAutonomous, modes.mode)

	reply, err = d.Handle(ctx, inbound("/mode sideways"))
	require.NoError(t, err)
	assert.Contains(t, reply, "⚠️")
	assert.Equal(t, domain.ModeAutonomous, modes.mode)

	reply, err = d.Handle(ctx, inbound("/mode"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Current mode:")
}

func TestDispatcherMiscCommands(t *testing.T) {
	d, brain, _, _ := newTestDispatcher()
	ctx := context.Background()

	reply, err := d.Handle(ctx, inbound("/goals"))
	require.NoError(t, err)
	assert.Contains(t, reply, "No active goals")

	reply, err = d.Handle(ctx, inbound("/new"))
	require.NoError(t, err)
	assert.Contains(t, reply, "c-new")

	reply, err = d.Handle(ctx, inbound("/dance"))
	require.NoError(t, err)
	assert.Contains(t, reply, "Unknown command: /dance")
	assert.Contains(t, reply, "/approve <id>")

	assert.Empty(t, brain.requests)
}
