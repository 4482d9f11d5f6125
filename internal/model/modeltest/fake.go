// Package modeltest provides a scripted completion provider for tests.
package modeltest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/harunnryd/brain/internal/config"
	"github.com/harunnryd/brain/internal/model"
	"github.com/harunnryd/brain/internal/model/contract"
)

const ModelName = "fake-model"

type rule struct {
	match string
	reply string
	err   error
}

// Provider answers from substring rules matched against the system prompt
// and the last user message. The first matching rule wins.
type Provider struct {
	mu       sync.Mutex
	rules    []rule
	fallback string
	err      error
	calls    []contract.CompletionRequest
	usage    contract.Usage
}

func New() *Provider {
	return &Provider{fallback: "OK", usage: contract.Usage{InputTokens: 10, OutputTokens: 5}}
}

// On replies with reply whenever the prompt contains match.
func (p *Provider) On(match, reply string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, rule{match: match, reply: reply})
	return p
}

// OnError fails whenever the prompt contains match.
func (p *Provider) OnError(match string, err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rules = append(p.rules, rule{match: match, err: err})
	return p
}

// Default sets the reply used when no rule matches.
func (p *Provider) Default(reply string) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fallback = reply
	return p
}

// FailWith makes every generation fail with err.
func (p *Provider) FailWith(err error) *Provider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
	return p
}

// Calls returns the requests received so far.
func (p *Provider) Calls() []contract.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]contract.CompletionRequest, len(p.calls))
	copy(out, p.calls)
	return out
}

func (p *Provider) answer(req contract.CompletionRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	if p.err != nil {
		return "", p.err
	}

	text := req.System
	if n := len(req.Messages); n > 0 {
		text += "\n" + req.Messages[n-1].Content
	}
	for _, r := range p.rules {
		if strings.Contains(text, r.match) {
			return r.reply, r.err
		}
	}
	return p.fallback, nil
}

func (p *Provider) Generate(_ context.Context, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	reply, err := p.answer(req)
	if err != nil {
		return nil, err
	}
	return &contract.CompletionResponse{Content: reply, Model: req.Model, Usage: p.usage}, nil
}

// Stream emits the reply word by word and honors cancellation between words.
func (p *Provider) Stream(ctx context.Context, req contract.CompletionRequest, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error) {
	reply, err := p.answer(req)
	if err != nil {
		return nil, err
	}
	out := &contract.CompletionResponse{Model: req.Model, Usage: p.usage}
	var sent strings.Builder
	for i, word := range strings.Fields(reply) {
		if err := ctx.Err(); err != nil {
			out.Content = sent.String()
			return out, err
		}
		chunk := word
		if i > 0 {
			chunk = " " + word
		}
		sent.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			out.Content = sent.String()
			return out, err
		}
	}
	out.Content = sent.String()
	return out, nil
}

// Embed returns a normalized bag-of-words hash vector, so texts sharing words
// land close together.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	const dims = 64
	vec := make([]float32, dims)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(word, ".,!?:;\"'()")))
		vec[h.Sum32()%dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v * v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (p *Provider) Name() string                   { return ModelName }
func (p *Provider) Type() string                   { return "fake" }
func (p *Provider) Health(_ context.Context) error { return nil }

// Router wraps p in a router where it is the only, default model.
func Router(p *Provider) *model.DefaultModelRouter {
	return model.NewRouterWithProviders(config.ModelsConfig{
		Default:             ModelName,
		MaxFallbackAttempts: 1,
	}, map[string]model.Provider{ModelName: p})
}

// Completer wraps p in a ready Completer.
func Completer(p *Provider) *model.Completer {
	return model.NewCompleter(Router(p))
}
