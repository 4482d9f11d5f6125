package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/brain/internal/concurrency"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/idempotency"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const slackDedupTTL = 10 * time.Minute

var slackMention = regexp.MustCompile(`<@[A-Z0-9]+>\s*`)

type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
	AuthTestContext(ctx context.Context) (*slack.AuthTestResponse, error)
}

// Slack serves the Events API endpoint and posts replies and reports.
type Slack struct {
	signingSecret  string
	defaultChannel string
	userID         string
	port           int

	handler Handler
	seen    *idempotency.Store
	client  slackClient
	server  *http.Server

	// replies run after the event is acknowledged; Stop waits for them
	replies sync.WaitGroup
	baseCtx context.Context
}

func NewSlack(cfg config.SlackConfig, handler Handler, seen *idempotency.Store) (*Slack, error) {
	signingSecret := cfg.SigningSecret
	if signingSecret == "" {
		signingSecret = os.Getenv("SLACK_SIGNING_SECRET")
	}
	botToken := cfg.BotToken
	if botToken == "" {
		botToken = os.Getenv("SLACK_BOT_TOKEN")
	}
	if strings.TrimSpace(botToken) == "" {
		return nil, errors.InvalidInput("adapters.slack.bot_token is required when slack adapter is enabled")
	}
	if handler != nil && strings.TrimSpace(signingSecret) == "" {
		return nil, errors.InvalidInput("adapters.slack.signing_secret is required to receive slack events")
	}
	port := cfg.Port
	if port <= 0 {
		port = config.DefaultSlackPort
	}
	if seen == nil {
		seen = idempotency.NewMemoryStore()
	}
	return &Slack{
		signingSecret:  signingSecret,
		defaultChannel: cfg.DefaultChannel,
		userID:         strings.TrimSpace(cfg.UserID),
		port:           port,
		handler:        handler,
		seen:           seen,
		client:         slack.New(botToken),
		baseCtx:        context.Background(),
	}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Init(ctx context.Context) error {
	s.baseCtx = context.WithoutCancel(ctx)
	return nil
}

// Start serves /slack/events in the background. Without a handler the
// adapter only posts notifications.
func (s *Slack) Start(ctx context.Context) error {
	if s.handler == nil || s.server != nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/slack/events", s.handleEvents)
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srv := s.server
	concurrency.SafeGo(func() {
		slog.Info("Slack adapter listening", "port", s.port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Slack server failed", "error", err)
		}
	}, nil)
	return nil
}

func (s *Slack) Stop(ctx context.Context) error {
	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return err
		}
	}
	done := make(chan struct{})
	go func() {
		s.replies.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := s.seen.Save(); err != nil {
		slog.Warn("Failed to persist slack dedup keys", "error", err)
	}
	return nil
}

func (s *Slack) Health(ctx context.Context) error {
	if s.client == nil {
		return errors.Transient("Slack client not initialized")
	}
	if s.handler != nil && s.server == nil {
		return errors.Transient("Slack server not started")
	}
	if _, err := s.client.AuthTestContext(ctx); err != nil {
		return errors.Transient("Slack connection failed")
	}
	return nil
}

// ChatFor returns the user's linked channel or the configured default.
func (s *Slack) ChatFor(settings *domain.BrainSettings) string {
	if settings != nil && settings.SlackChannel != "" {
		return settings.SlackChannel
	}
	return s.defaultChannel
}

func (s *Slack) Notify(ctx context.Context, chatID, text string) error {
	_, _, err := s.client.PostMessageContext(ctx, chatID, slack.MsgOptionText(text, false))
	if err != nil {
		return errors.Wrap(err, "failed to send Slack message")
	}
	slog.Debug("Slack message sent", "channel", chatID)
	return nil
}

func (s *Slack) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sv, err := slack.NewSecretsVerifier(r.Header, s.signingSecret)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if _, err := sv.Write(body); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := sv.Ensure(); err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	event, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch event.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
		return
	case slackevents.CallbackEvent:
		if in, ok := s.inbound(event); ok {
			s.reply(in)
		}
	}
	w.WriteHeader(http.StatusOK)
}

// inbound extracts a user message from app mentions and direct messages.
// Bot messages, edits and redeliveries are dropped.
func (s *Slack) inbound(event slackevents.EventsAPIEvent) (Inbound, bool) {
	var user, channel, text, ts string
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.AppMentionEvent:
		if ev.BotID != "" {
			return Inbound{}, false
		}
		user, channel, text, ts = ev.User, ev.Channel, ev.Text, ev.TimeStamp
	case *slackevents.MessageEvent:
		if ev.BotID != "" || ev.SubType != "" || ev.ChannelType != "im" {
			return Inbound{}, false
		}
		user, channel, text, ts = ev.User, ev.Channel, ev.Text, ev.TimeStamp
	default:
		return Inbound{}, false
	}

	text = strings.TrimSpace(slackMention.ReplaceAllString(text, ""))
	if text == "" {
		return Inbound{}, false
	}
	if s.seen.CheckAndMark(idempotency.Key("slack", channel+":"+ts), slackDedupTTL) {
		slog.Debug("Skipping redelivered slack event", "channel", channel, "ts", ts)
		return Inbound{}, false
	}

	userID := s.userID
	if userID == "" {
		userID = "slack-" + user
	}
	return Inbound{UserID: userID, Channel: domain.ChannelSlack, ChatID: channel, Text: text}, true
}

// reply answers after the HTTP ack; Slack retries events that take longer
// than three seconds.
func (s *Slack) reply(in Inbound) {
	s.replies.Add(1)
	concurrency.SafeGo(func() {
		defer s.replies.Done()
		ctx := s.baseCtx
		text, err := s.handler.Handle(ctx, in)
		if err != nil {
			slog.Error("Failed to handle Slack event", "channel", in.ChatID, "error", err)
			text = "Sorry, something went wrong while handling that. Please try again."
		}
		if text == "" {
			return
		}
		if err := s.Notify(ctx, in.ChatID, text); err != nil {
			slog.Error("Failed to reply on Slack", "channel", in.ChatID, "error", err)
		}
	}, func(r interface{}) {
		slog.Error("Slack reply panicked", "panic", r)
	})
}
