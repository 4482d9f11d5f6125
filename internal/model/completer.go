package model

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harunnryd/brain/internal/domain"
	"github.com/harunnryd/brain/internal/model/contract"
)

// Options tune a single generation.
type Options struct {
	System      string
	History     []contract.Message
	MaxTokens   int
	Temperature float64
	// Location renders the date context in the user's timezone.
	Location *time.Location
}

// Generator is the completion surface consumed by classifiers, agents and
// planners.
type Generator interface {
	Generate(ctx context.Context, settings *domain.BrainSettings, task domain.TaskType, prompt string, opts Options) (*contract.CompletionResponse, error)
}

// Completer resolves the model for a user and task type and prepends the
// date context to every system prompt.
type Completer struct {
	router ModelRouter
	now    func() time.Time
}

func NewCompleter(router ModelRouter) *Completer {
	return &Completer{router: router, now: time.Now}
}

// WithClock overrides the clock used for the date context.
func (c *Completer) WithClock(now func() time.Time) *Completer {
	c.now = now
	return c
}

// ResolveModel applies per-task override, preferred model, then the router
// default.
func (c *Completer) ResolveModel(settings *domain.BrainSettings, task domain.TaskType) string {
	if model := settings.ModelFor(task); model != "" {
		return model
	}
	return c.router.DefaultModel()
}

// DateContext renders the current date for prompts.
func (c *Completer) DateContext(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	now := c.now().In(loc)
	return fmt.Sprintf("Current date: %s (%s), time %s %s.",
		now.Format("2006-01-02"), now.Weekday(), now.Format("15:04"), loc.String())
}

func (c *Completer) system(system string, loc *time.Location) string {
	date := c.DateContext(loc)
	if strings.TrimSpace(system) == "" {
		return date
	}
	return date + "\n\n" + system
}

// Generate sends prompt as the final user turn after opts.History.
func (c *Completer) Generate(ctx context.Context, settings *domain.BrainSettings, task domain.TaskType, prompt string, opts Options) (*contract.CompletionResponse, error) {
	messages := make([]contract.Message, 0, len(opts.History)+1)
	messages = append(messages, opts.History...)
	messages = append(messages, contract.Message{Role: contract.RoleUser, Content: prompt})

	return c.Complete(ctx, settings, task, contract.CompletionRequest{
		System:      opts.System,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	}, opts.Location)
}

// Complete sends a prepared request.
func (c *Completer) Complete(ctx context.Context, settings *domain.BrainSettings, task domain.TaskType, req contract.CompletionRequest, loc *time.Location) (*contract.CompletionResponse, error) {
	model := c.ResolveModel(settings, task)
	req.Model = model
	req.System = c.system(req.System, loc)
	return c.router.Route(ctx, model, req)
}

// Stream is Complete with incremental output.
func (c *Completer) Stream(ctx context.Context, settings *domain.BrainSettings, task domain.TaskType, req contract.CompletionRequest, loc *time.Location, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error) {
	model := c.ResolveModel(settings, task)
	req.Model = model
	req.System = c.system(req.System, loc)
	return c.router.StreamRoute(ctx, model, req, onChunk)
}

// Embed returns an embedding from the first capable provider.
func (c *Completer) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.router.RouteEmbedding(ctx, "", text)
}
