package gemini

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/harunnryd/brain/internal/model/contract"

	"google.golang.org/genai"
)

type Provider struct {
	client *genai.Client
}

const defaultEmbeddingModel = "text-embedding-004"

func New(apiKey string) (*Provider, error) {
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	return &Provider{client: client}, nil
}

func (p *Provider) Name() string {
	return "gemini"
}

func buildContents(req contract.CompletionRequest) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case contract.RoleAssistant:
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{{Text: m.Content}}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: m.Content}}})
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if system := strings.TrimSpace(req.System); system != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	return contents, cfg
}

func usageOf(resp *genai.GenerateContentResponse) contract.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return contract.Usage{}
	}
	return contract.Usage{
		InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
		OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
	}
}

func (p *Provider) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	contents, cfg := buildContents(req)
	resp, err := p.client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	out := &contract.CompletionResponse{Model: req.Model}
	if resp == nil {
		return out, nil
	}
	out.Content = resp.Text()
	out.Usage = usageOf(resp)
	return out, nil
}

func (p *Provider) Stream(ctx context.Context, req contract.CompletionRequest, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error) {
	contents, cfg := buildContents(req)
	out := &contract.CompletionResponse{Model: req.Model}
	var text strings.Builder

	for resp, err := range p.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
		if err != nil {
			out.Content = text.String()
			return out, fmt.Errorf("gemini stream failed: %w", err)
		}
		if usage := usageOf(resp); usage.Total() > 0 {
			out.Usage = usage
		}
		chunk := resp.Text()
		if chunk == "" {
			continue
		}
		text.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			out.Content = text.String()
			return out, err
		}
	}

	out.Content = text.String()
	return out, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.Models.EmbedContent(ctx, defaultEmbeddingModel, genai.Text(text), nil)
	if err != nil {
		return nil, fmt.Errorf("gemini embedding failed: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("gemini embedding returned empty result")
	}

	return resp.Embeddings[0].Values, nil
}
