package anthropic

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/brain/internal/model/contract"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	defaultMaxTokens = 1024
	defaultModel     = "claude-3-5-haiku-latest"
)

type Provider struct {
	client anthropic.Client
}

func New(apiKey string) *Provider {
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return &Provider{client: anthropic.NewClient(option.WithAPIKey(apiKey))}
}

func (p *Provider) Name() string {
	return "anthropic"
}

func buildParams(req contract.CompletionRequest) anthropic.MessageNewParams {
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case contract.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	modelName := req.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelName),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system := strings.TrimSpace(req.System); system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	msg, err := p.client.Messages.New(ctx, buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	resp := &contract.CompletionResponse{
		Model: string(msg.Model),
		Usage: contract.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			resp.Content += b.Text
		}
	}
	return resp, nil
}

func (p *Provider) Stream(ctx context.Context, req contract.CompletionRequest, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error) {
	stream := p.client.Messages.NewStreaming(ctx, buildParams(req))
	defer stream.Close()

	msg := anthropic.Message{}
	out := &contract.CompletionResponse{Model: req.Model}
	var text strings.Builder

	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			out.Content = text.String()
			return out, fmt.Errorf("anthropic stream failed: %w", err)
		}
		variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := variant.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		text.WriteString(delta.Text)
		if err := onChunk(delta.Text); err != nil {
			out.Content = text.String()
			return out, err
		}
	}

	out.Content = text.String()
	out.Usage = contract.Usage{InputTokens: int(msg.Usage.InputTokens), OutputTokens: int(msg.Usage.OutputTokens)}
	if err := stream.Err(); err != nil {
		return out, fmt.Errorf("anthropic stream failed: %w", err)
	}
	return out, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embedding not supported by anthropic provider")
}
