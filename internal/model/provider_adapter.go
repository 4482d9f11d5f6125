package model

import (
	"context"

	"github.com/harunnryd/brain/internal/model/contract"
)

// backend is the method set shared by the concrete SDK providers.
type backend interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Stream(ctx context.Context, req contract.CompletionRequest, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ProviderAdapter binds a concrete provider to one registry entry: the model
// name sent upstream and the default generation limits.
type ProviderAdapter struct {
	provider     backend
	name         string
	providerType string
	maxTokens    int
	temperature  float64
}

func NewProviderAdapter(provider backend, name, providerType string, maxTokens int, temperature float64) *ProviderAdapter {
	return &ProviderAdapter{
		provider:     provider,
		name:         name,
		providerType: providerType,
		maxTokens:    maxTokens,
		temperature:  temperature,
	}
}

func (a *ProviderAdapter) prepare(req contract.CompletionRequest) contract.CompletionRequest {
	req.Model = a.name
	if req.MaxTokens <= 0 {
		req.MaxTokens = a.maxTokens
	}
	if req.Temperature <= 0 {
		req.Temperature = a.temperature
	}
	return req
}

func (a *ProviderAdapter) Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	resp, err := a.provider.Generate(ctx, a.prepare(req))
	if resp != nil && resp.Model == "" {
		resp.Model = a.name
	}
	return resp, err
}

func (a *ProviderAdapter) Stream(ctx context.Context, req contract.CompletionRequest, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error) {
	resp, err := a.provider.Stream(ctx, a.prepare(req), onChunk)
	if resp != nil && resp.Model == "" {
		resp.Model = a.name
	}
	return resp, err
}

func (a *ProviderAdapter) Embed(ctx context.Context, text string) ([]float32, error) {
	return a.provider.Embed(ctx, text)
}

func (a *ProviderAdapter) Name() string {
	return a.name
}

func (a *ProviderAdapter) Type() string {
	return a.providerType
}

func (a *ProviderAdapter) Health(ctx context.Context) error {
	return nil
}
