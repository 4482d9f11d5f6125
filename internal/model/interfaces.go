package model

import (
	"context"

	"github.com/harunnryd/brain/internal/model/contract"
)

type ModelRouter interface {
	Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	StreamRoute(ctx context.Context, model string, req contract.CompletionRequest, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error)
	RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error)
	DefaultModel() string
	ListModels() []string
	Health(ctx context.Context) error
}

type Provider interface {
	Generate(ctx context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error)
	Stream(ctx context.Context, req contract.CompletionRequest, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error)
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
	Type() string
	Health(ctx context.Context) error
}
