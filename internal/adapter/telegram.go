package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/brain/internal/concurrency"
	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/idempotency"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramMaxText is the Bot API limit for one message.
const telegramMaxText = 4096

type telegramBot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	GetMe() (tgbotapi.User, error)
}

// Handler produces the reply to an inbound chat message.
type Handler interface {
	Handle(ctx context.Context, msg Inbound) (string, error)
}

// Telegram long-polls the Bot API for messages and sends cycle reports.
type Telegram struct {
	token         string
	updateTimeout int
	allowed       map[int64]bool
	userID        string
	dedupTTL      time.Duration

	handler Handler
	seen    *idempotency.Store
	bot     telegramBot

	mu      sync.Mutex
	cancel  context.CancelFunc
	running sync.WaitGroup
}

func NewTelegram(cfg config.TelegramConfig, handler Handler, seen *idempotency.Store) (*Telegram, error) {
	token := strings.TrimSpace(cfg.BotToken)
	if token == "" {
		return nil, errors.InvalidInput("adapters.telegram.bot_token is required when telegram adapter is enabled")
	}
	ttl, err := config.DurationOrDefault(cfg.DedupTTL, config.DefaultTelegramDedupTTL)
	if err != nil {
		return nil, fmt.Errorf("parse telegram dedup ttl: %w", err)
	}
	timeout := cfg.UpdateTimeout
	if timeout <= 0 {
		timeout = config.DefaultTelegramUpdateTimeout
	}
	if seen == nil {
		seen = idempotency.NewMemoryStore()
	}
	allowed := make(map[int64]bool, len(cfg.AllowedChatIDs))
	for _, id := range cfg.AllowedChatIDs {
		allowed[id] = true
	}
	return &Telegram{
		token:         token,
		updateTimeout: timeout,
		allowed:       allowed,
		userID:        strings.TrimSpace(cfg.UserID),
		dedupTTL:      ttl,
		handler:       handler,
		seen:          seen,
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// Init connects to the Bot API.
func (t *Telegram) Init(ctx context.Context) error {
	if t.bot != nil {
		return nil
	}
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return errors.Wrap(err, "failed to init telegram bot")
	}
	t.bot = bot
	slog.Info("Telegram adapter initialized", "user", bot.Self.UserName)
	return nil
}

// Start begins polling. Inbound handling is skipped when no handler is set,
// which leaves the adapter as a notifier only.
func (t *Telegram) Start(ctx context.Context) error {
	if t.bot == nil {
		return errors.Internal("telegram adapter not initialized")
	}
	if t.handler == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		return nil
	}
	pollCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel

	u := tgbotapi.NewUpdate(0)
	u.Timeout = t.updateTimeout
	updates := t.bot.GetUpdatesChan(u)

	t.running.Add(1)
	concurrency.SafeGo(func() {
		defer t.running.Done()
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(pollCtx, update)
			}
		}
	}, func(r interface{}) {
		slog.Error("Telegram poll loop panicked", "panic", r)
	})
	slog.Info("Telegram adapter polling")
	return nil
}

func (t *Telegram) Stop(ctx context.Context) error {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()
	if cancel == nil {
		return nil
	}
	t.bot.StopReceivingUpdates()
	cancel()

	done := make(chan struct{})
	go func() {
		t.running.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := t.seen.Save(); err != nil {
		slog.Warn("Failed to persist telegram dedup keys", "error", err)
	}
	return nil
}

func (t *Telegram) Health(ctx context.Context) error {
	if t.bot == nil {
		return errors.Transient("Telegram bot not initialized")
	}
	if _, err := t.bot.GetMe(); err != nil {
		return errors.Transient("Telegram connection failed: " + err.Error())
	}
	return nil
}

// ChatFor returns the chat the user linked by talking to the bot.
func (t *Telegram) ChatFor(settings *domain.BrainSettings) string {
	if settings == nil {
		return ""
	}
	return settings.TelegramChatID
}

// Notify sends text to a chat, split to fit the message size limit.
func (t *Telegram) Notify(ctx context.Context, chatID, text string) error {
	if t.bot == nil {
		return errors.Transient("Telegram bot not initialized")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return errors.InvalidInput("invalid telegram chat id: " + err.Error())
	}
	for _, part := range splitText(text, telegramMaxText) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := t.bot.Send(tgbotapi.NewMessage(id, part)); err != nil {
			return errors.Wrap(err, "failed to send telegram message")
		}
	}
	slog.Debug("Telegram message sent", "chat_id", chatID)
	return nil
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
		return
	}
	if t.seen.CheckAndMark(idempotency.Key("telegram", update.UpdateID), t.dedupTTL) {
		slog.Debug("Skipping redelivered telegram update", "update_id", update.UpdateID)
		return
	}
	if len(t.allowed) > 0 && !t.allowed[msg.Chat.ID] {
		slog.Warn("Ignoring telegram message from unknown chat", "chat_id", msg.Chat.ID)
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	reply, err := t.handler.Handle(ctx, Inbound{
		UserID:  t.userFor(msg),
		Channel: domain.ChannelTelegram,
		ChatID:  chatID,
		Text:    msg.Text,
	})
	if err != nil {
		slog.Error("Failed to handle telegram message", "chat_id", chatID, "error", err)
		reply = "Sorry, something went wrong while handling that. Please try again."
	}
	if reply == "" {
		return
	}
	if err := t.Notify(ctx, chatID, reply); err != nil {
		slog.Error("Failed to reply on telegram", "chat_id", chatID, "error", err)
	}
}

// userFor maps a chat to a Brain user. A configured user id wins; otherwise
// each chat is its own user.
func (t *Telegram) userFor(msg *tgbotapi.Message) string {
	if t.userID != "" {
		return t.userID
	}
	return fmt.Sprintf("telegram-%d", msg.Chat.ID)
}

// splitText cuts text into chunks of at most limit runes, preferring line
// breaks.
func splitText(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var parts []string
	for len(runes) > limit {
		cut := limit
		for i := limit; i > limit/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, string(runes[:cut]))
		runes = runes[cut:]
	}
	if len(runes) > 0 {
		parts = append(parts, string(runes))
	}
	return parts
}
