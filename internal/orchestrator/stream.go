package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/harunnryd/brain/internal/agent"
	"github.com/harunnryd/brain/internal/concurrency"
	"github.com/harunnryd/brain/internal/domain"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/knowledge"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model/contract"
)

// Stream is a conversational reply being generated. Read it with Next until
// it returns false, then inspect Text and Err. Close abandons it early; the
// partial reply is still stored.
type Stream struct {
	ConversationID string
	Model          string
	Intent         string

	chunks chan string
	done   chan struct{}
	cancel context.CancelFunc

	finalize sync.Once

	mu        sync.Mutex
	text      []byte
	err       error
	completed bool
	title     string
}

// Next blocks for the next chunk. It returns false once the stream ended.
func (s *Stream) Next() (string, bool) {
	chunk, ok := <-s.chunks
	return chunk, ok
}

// Text returns the reply so far. It always includes the chunk Next just
// returned and may already hold the one waiting to be delivered.
func (s *Stream) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.text)
}

// Err is the provider error, if any. Valid after Next returned false.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Completed reports whether the provider finished the reply.
func (s *Stream) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Title is the conversation title after the reply was stored.
func (s *Stream) Title() string {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.title
}

// Wait blocks until the reply is stored.
func (s *Stream) Wait() error {
	<-s.done
	return s.Err()
}

// Close cancels generation and waits for the partial reply to be stored.
// Chunks not yet received are dropped.
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// StreamMessage streams a conversational reply. Messages that need an agent,
// a pending follow-up or the situation analysis return ErrNotStreamable
// before anything is stored, so the caller can fall back to ProcessMessage.
func (o *Orchestrator) StreamMessage(ctx context.Context, req Request) (*Stream, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, brainErrors.InvalidInput("user id is required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, brainErrors.InvalidInput("message is empty")
	}
	if req.Channel == "" {
		req.Channel = domain.ChannelWeb
	}
	ctx = logger.WithUserID(ctx, req.UserID)

	acct, err := o.Account(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !acct.Settings.HasTokensAvailable(o.now()) {
		return nil, fmt.Errorf("%w: %w", brainErrors.ErrNotStreamable, brainErrors.ErrTokenLimit)
	}

	conv, err := o.lookupConversation(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resolve conversation: %w", err)
	}
	if conv != nil {
		if name, _, ok := conv.Pending(); ok && o.Registry.Has(name) {
			return nil, fmt.Errorf("%w: %s is waiting for details", brainErrors.ErrNotStreamable, name)
		}
	}

	in := o.Classifier.Classify(ctx, req.Text, acct, conv)
	if in.RequiresAgent || in.TaskType == domain.TaskSituation {
		return nil, fmt.Errorf("%w: intent %q", brainErrors.ErrNotStreamable, in.Intent)
	}

	if conv == nil {
		if conv, err = o.Conversations.CreateNew(ctx, req.UserID, req.Channel); err != nil {
			return nil, err
		}
	}
	ctx = logger.WithConversationID(ctx, conv.ID)
	if _, err := o.Conversations.AddUserMessage(ctx, conv, req.Text); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}

	kb, err := o.Knowledge.GetContext(ctx, acct.ID(), knowledge.ProfileFor(string(in.TaskType)))
	if err != nil {
		return nil, err
	}
	if goals, err := o.Goals.ActiveGoalsContext(ctx, acct.ID()); err == nil && goals != "" {
		kb = strings.TrimSpace(kb + "\n\n" + goals)
	}
	payload := o.Conversations.BuildPayload(conv, acct.User, acct.Settings, kb)
	creq := contract.CompletionRequest{
		System:      payload.System,
		Messages:    payload.Messages,
		MaxTokens:   chatMaxTokens,
		Temperature: chatTemperature,
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ConversationID: conv.ID,
		Model:          o.Completer.ResolveModel(acct.Settings, domain.TaskConversation),
		Intent:         in.Intent,
		chunks:         make(chan string),
		done:           make(chan struct{}),
		cancel:         cancel,
	}

	concurrency.SafeGo(func() {
		defer close(s.done)
		defer close(s.chunks)
		defer cancel()

		var resp *contract.CompletionResponse
		var streamErr error
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(ctx).Error("Stream panicked", "panic", r)
				streamErr = fmt.Errorf("%w: stream panicked: %v", brainErrors.ErrInternal, r)
			}
			s.finalize.Do(func() {
				o.finishStream(ctx, s, acct, conv, req.Text, creq, resp, streamErr)
			})
		}()

		resp, streamErr = o.Completer.Stream(sctx, acct.Settings, domain.TaskConversation, creq, acct.User.Location(), func(chunk string) error {
			s.mu.Lock()
			mark := len(s.text)
			s.text = append(s.text, chunk...)
			s.mu.Unlock()
			select {
			case s.chunks <- chunk:
				return nil
			case <-sctx.Done():
				// never delivered, so it is not part of the stored reply
				s.mu.Lock()
				s.text = s.text[:mark]
				s.mu.Unlock()
				return sctx.Err()
			}
		})
	}, nil)
	return s, nil
}

// finishStream stores the reply even when the client went away, so the
// conversation keeps what the user saw.
func (o *Orchestrator) finishStream(ctx context.Context, s *Stream, acct agent.Account, conv *domain.Conversation, userText string, req contract.CompletionRequest, resp *contract.CompletionResponse, streamErr error) {
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx)

	s.mu.Lock()
	text := string(s.text)
	s.err = streamErr
	s.completed = streamErr == nil
	s.mu.Unlock()

	if strings.TrimSpace(text) == "" && streamErr != nil {
		log.Error("Streaming failed before any output", "error", streamErr)
		text = errorReply
	}

	usage := estimateUsage(req, text)
	modelName := s.Model
	if resp != nil {
		if resp.Usage.Total() > 0 {
			usage = resp.Usage
		}
		if resp.Model != "" {
			modelName = resp.Model
		}
	}

	metadata := map[string]any{
		"intent":    s.Intent,
		"work_mode": string(acct.Settings.WorkMode),
		"streamed":  true,
		"completed": streamErr == nil,
	}
	if _, err := o.Conversations.AddAssistantMessage(ctx, conv, text, usage, modelName, metadata); err != nil {
		log.Error("Failed to save streamed reply", "error", err)
	}
	if err := o.trackTokens(ctx, acct.ID(), usage.Total()); err != nil {
		log.Warn("Failed to track token usage", "error", err)
	}
	if streamErr == nil {
		o.maybeTitle(ctx, acct, conv, userText, text)
		o.maybeEnrich(ctx, acct, conv)
	}

	s.mu.Lock()
	s.title = conv.Title
	s.mu.Unlock()
}

// estimateUsage approximates tokens at four characters each for providers
// that report no usage on streams.
func estimateUsage(req contract.CompletionRequest, output string) contract.Usage {
	in := len(req.System)
	for _, m := range req.Messages {
		in += len(m.Content)
	}
	return contract.Usage{InputTokens: in / 4, OutputTokens: len(output) / 4}
}
