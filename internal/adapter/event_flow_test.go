package adapter

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	mu    sync.Mutex
	got   []Inbound
	reply string
}

func (h *recordingHandler) Handle(ctx context.Context, msg Inbound) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, msg)
	return h.reply, nil
}

func (h *recordingHandler) calls() []Inbound {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Inbound(nil), h.got...)
}

type fakeBot struct {
	sent []tgbotapi.MessageConfig
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (b *fakeBot) StopReceivingUpdates() {}

func (b *fakeBot) GetMe() (tgbotapi.User, error) { return tgbotapi.User{UserName: "brain_bot"}, nil }

func telegramUpdate(updateID int, chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: updateID,
		Message: &tgbotapi.Message{
			MessageID: 123,
			Text:      text,
			Chat:      &tgbotapi.Chat{ID: chatID},
			From:      &tgbotapi.User{ID: 789, UserName: "alice"},
		},
	}
}

func newTestTelegram(t *testing.T, cfg config.TelegramConfig, h Handler) (*Telegram, *fakeBot) {
	t.Helper()
	cfg.BotToken = "test-token"
	tg, err := NewTelegram(cfg, h, nil)
	require.NoError(t, err)
	bot := &fakeBot{}
	tg.bot = bot
	return tg, bot
}

func TestTelegramEventFlow(t *testing.T) {
	h := &recordingHandler{reply: "Hello Alice"}
	tg, bot := newTestTelegram(t, config.TelegramConfig{}, h)

	tg.handleUpdate(context.Background(), telegramUpdate(99, 456, "hello from telegram"))

	calls := h.calls()
	require.Len(t, calls, 1)
	if calls[0] != (Inbound{UserID: "telegram-456", Channel: domain.ChannelTelegram, ChatID: "456", Text: "hello from telegram"}) {
		t.Fatalf("inbound = %+v", calls[0])
	}
	require.Len(t, bot.sent, 1)
	assert.Equal(t, int64(456), bot.sent[0].ChatID)
	assert.Equal(t, "Hello Alice", bot.sent[0].Text)
}

func TestTelegramDropsRedeliveryAndUnknownChats(t *testing.T) {
	h := &recordingHandler{reply: "ok"}
	tg, _ := newTestTelegram(t, config.TelegramConfig{AllowedChatIDs: []int64{456}, UserID: "owner"}, h)
	ctx := context.Background()

	tg.handleUpdate(ctx, telegramUpdate(1, 456, "first"))
	tg.handleUpdate(ctx, telegramUpdate(1, 456, "first"))
	tg.handleUpdate(ctx, telegramUpdate(2, 999, "stranger"))
	tg.handleUpdate(ctx, tgbotapi.Update{UpdateID: 3})

	calls := h.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "owner", calls[0].UserID)
}

func TestTelegramNotifySplitsLongText(t *testing.T) {
	tg, bot := newTestTelegram(t, config.TelegramConfig{}, nil)
	long := strings.Repeat("line of report\n", 600)

	require.NoError(t, tg.Notify(context.Background(), "456", long))
	require.Greater(t, len(bot.sent), 1)
	var joined strings.Builder
	for _, m := range bot.sent {
		assert.LessOrEqual(t, len([]rune(m.Text)), telegramMaxText)
		joined.WriteString(m.Text)
	}
	assert.Equal(t, long, joined.String())

	require.Error(t, tg.Notify(context.Background(), "not-a-chat", "hi"))
}

type fakeSlackClient struct {
	mu     sync.Mutex
	posted []string
}

func (c *fakeSlackClient) PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posted = append(c.posted, channelID)
	return channelID, "1", nil
}

func (c *fakeSlackClient) AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error) {
	return &slack.AuthTestResponse{}, nil
}

func signedSlackRequest(t *testing.T, secret string, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", bytes.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte("v0:" + ts + ":" + string(body)))
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func newTestSlack(t *testing.T, h Handler) (*Slack, *fakeSlackClient) {
	t.Helper()
	s, err := NewSlack(config.SlackConfig{SigningSecret: "test-signing-secret", BotToken: "xoxb-test", DefaultChannel: "C-default"}, h, nil)
	require.NoError(t, err)
	client := &fakeSlackClient{}
	s.client = client
	return s, client
}

func TestSlackAppMentionFlow(t *testing.T) {
	h := &recordingHandler{reply: "Here are your stats"}
	s, client := newTestSlack(t, h)

	body := []byte(`{"type":"event_callback","event":{"type":"app_mention","user":"U123","text":"<@UBRAIN> show my stats","channel":"C123","ts":"1710000000.000100"}}`)
	rr := httptest.NewRecorder()
	s.handleEvents(rr, signedSlackRequest(t, "test-signing-secret", body))
	require.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	s.handleEvents(rr, signedSlackRequest(t, "test-signing-secret", body))
	require.Equal(t, http.StatusOK, rr.Code)
	s.replies.Wait()

	calls := h.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, Inbound{UserID: "slack-U123", Channel: domain.ChannelSlack, ChatID: "C123", Text: "show my stats"}, calls[0])
	assert.Equal(t, []string{"C123"}, client.posted)
}

func TestSlackRejectsBadSignature(t *testing.T) {
	h := &recordingHandler{}
	s, _ := newTestSlack(t, h)

	body := []byte(`{"type":"event_callback","event":{"type":"app_mention","user":"U1","text":"hi","channel":"C1","ts":"1"}}`)
	rr := httptest.NewRecorder()
	s.handleEvents(rr, signedSlackRequest(t, "wrong-secret", body))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, h.calls())
}

func TestSlackIgnoresChannelChatterAndBots(t *testing.T) {
	h := &recordingHandler{}
	s, _ := newTestSlack(t, h)

	for _, body := range []string{
		`{"type":"event_callback","event":{"type":"message","user":"U1","text":"lunch?","channel":"C1","channel_type":"channel","ts":"1"}}`,
		`{"type":"event_callback","event":{"type":"message","bot_id":"B1","text":"beep","channel":"D1","channel_type":"im","ts":"2"}}`,
	} {
		rr := httptest.NewRecorder()
		s.handleEvents(rr, signedSlackRequest(t, "test-signing-secret", []byte(body)))
		require.Equal(t, http.StatusOK, rr.Code)
	}
	s.replies.Wait()
	assert.Empty(t, h.calls())
}

func TestSlackURLVerification(t *testing.T) {
	s, _ := newTestSlack(t, &recordingHandler{})
	body := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	rr := httptest.NewRecorder()
	s.handleEvents(rr, signedSlackRequest(t, "test-signing-secret", body))
	assert.Equal(t, "abc123", rr.Body.String())
}

type failingTarget struct{ fakeSlackTarget }

func (failingTarget) Name() string { return "broken" }
func (failingTarget) Notify(ctx context.Context, chatID, text string) error {
	return assert.AnError
}

type fakeSlackTarget struct{ sent *[]string }

func (f fakeSlackTarget) Name() string { return "fake" }
func (f fakeSlackTarget) Notify(ctx context.Context, chatID, text string) error {
	*f.sent = append(*f.sent, chatID+": "+text)
	return nil
}
func (f fakeSlackTarget) ChatFor(settings *domain.BrainSettings) string { return settings.SlackChannel }

func TestMultiNotifyUser(t *testing.T) {
	var sent []string
	settings := domain.DefaultSettings("u1")
	settings.SlackChannel = "C1"

	m := NewMulti(fakeSlackTarget{sent: &sent}, Null{}, failingTarget{fakeSlackTarget{sent: &sent}})
	err := m.NotifyUser(context.Background(), settings, "cycle done")
	require.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, []string{"C1: cycle done"}, sent)

	settings.SlackChannel = ""
	require.NoError(t, m.NotifyUser(context.Background(), settings, "nobody listens"))
	assert.Len(t, sent, 1)
}
