package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/brain/internal/config"
	brainErrors "github.com/harunnryd/brain/internal/errors"
	"github.com/harunnryd/brain/internal/logger"
	"github.com/harunnryd/brain/internal/model/contract"
	anthropicProvider "github.com/harunnryd/brain/internal/model/providers/anthropic"
	geminiProvider "github.com/harunnryd/brain/internal/model/providers/gemini"
	openaiProvider "github.com/harunnryd/brain/internal/model/providers/openai"

	"golang.org/x/time/rate"
)

// DefaultModelRouter implements ModelRouter interface
type DefaultModelRouter struct {
	cfg       config.ModelsConfig
	providers map[string]Provider
	limiters  map[string]*rate.Limiter
	mapper    brainErrors.ErrorMapper
	mu        sync.RWMutex
}

// NewModelRouter creates a router with providers built from the registry.
func NewModelRouter(cfg config.ModelsConfig) (*DefaultModelRouter, error) {
	router := newRouter(cfg)
	if err := router.initProviders(); err != nil {
		return nil, err
	}
	return router, nil
}

// NewRouterWithProviders creates a router over ready-made providers keyed by
// model name.
func NewRouterWithProviders(cfg config.ModelsConfig, providers map[string]Provider) *DefaultModelRouter {
	router := newRouter(cfg)
	for name, p := range providers {
		router.providers[name] = p
	}
	return router
}

func newRouter(cfg config.ModelsConfig) *DefaultModelRouter {
	return &DefaultModelRouter{
		cfg:       cfg,
		providers: make(map[string]Provider),
		limiters:  make(map[string]*rate.Limiter),
		mapper:    brainErrors.NewDefaultErrorMapper(),
	}
}

// DefaultModel returns the configured default model name.
func (r *DefaultModelRouter) DefaultModel() string {
	if r.cfg.Default != "" {
		return r.cfg.Default
	}
	return config.DefaultModelDefault
}

// Route routes a completion request to the appropriate provider
func (r *DefaultModelRouter) Route(ctx context.Context, model string, req contract.CompletionRequest) (*contract.CompletionResponse, error) {
	log := logger.FromContext(ctx)
	if model == "" {
		model = r.DefaultModel()
	}
	log.Debug("Routing completion request", "model", model)

	currentModel, provider, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	return r.executeWithFallback(ctx, currentModel, provider, func(p Provider) (*contract.CompletionResponse, error) {
		return p.Generate(ctx, req)
	})
}

// StreamRoute streams a completion. Fallback is only attempted while no chunk
// has reached the caller.
func (r *DefaultModelRouter) StreamRoute(ctx context.Context, model string, req contract.CompletionRequest, onChunk contract.ChunkFunc) (*contract.CompletionResponse, error) {
	log := logger.FromContext(ctx)
	if model == "" {
		model = r.DefaultModel()
	}
	log.Debug("Routing stream request", "model", model)

	currentModel, provider, err := r.resolveProvider(ctx, model)
	if err != nil {
		return nil, err
	}

	emitted := false
	forward := func(chunk string) error {
		emitted = true
		return onChunk(chunk)
	}

	return r.executeWithFallback(ctx, currentModel, provider, func(p Provider) (*contract.CompletionResponse, error) {
		resp, err := p.Stream(ctx, req, forward)
		if err != nil && emitted {
			return resp, &streamInterrupted{err: err}
		}
		return resp, err
	})
}

// streamInterrupted marks a stream error after output began. It is never
// retried on another model.
type streamInterrupted struct {
	err error
}

func (e *streamInterrupted) Error() string { return e.err.Error() }
func (e *streamInterrupted) Unwrap() error { return e.err }

// RouteEmbedding routes an embedding request to the appropriate provider
func (r *DefaultModelRouter) RouteEmbedding(ctx context.Context, model string, text string) ([]float32, error) {
	log := logger.FromContext(ctx)
	if model == "" {
		model = r.cfg.Embedding
	}

	var lastErr error
	for _, tryModel := range r.embeddingTryOrder(model) {
		select {
		case <-ctx.Done():
			return nil, brainErrors.Wrap(ctx.Err(), "embedding request cancelled")
		default:
		}

		r.mu.RLock()
		provider, exists := r.providers[tryModel]
		r.mu.RUnlock()
		if !exists {
			continue
		}

		if err := r.wait(ctx, provider); err != nil {
			return nil, err
		}
		embeddings, err := provider.Embed(ctx, text)
		if err == nil {
			log.Debug("Embedding completed", "model", tryModel)
			return embeddings, nil
		}

		if isEmbeddingUnsupported(err) {
			continue
		}

		lastErr = err
		log.Warn("Embedding failed for model, trying next model", "model", tryModel, "error", err)
	}

	if lastErr != nil {
		return nil, brainErrors.Provider(r.classify(lastErr), "embedding failed")
	}

	return nil, brainErrors.NotFound("no embedding-capable model configured")
}

func (r *DefaultModelRouter) embeddingTryOrder(requestedModel string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.providers)+2)
	order := make([]string, 0, len(r.providers)+2)

	appendUnique := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}

	appendUnique(requestedModel)
	appendUnique(r.cfg.Default)

	registered := make([]string, 0, len(r.providers))
	for name := range r.providers {
		registered = append(registered, name)
	}
	sort.Strings(registered)

	for _, name := range registered {
		appendUnique(name)
	}

	return order
}

func isEmbeddingUnsupported(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "embedding not supported") ||
		strings.Contains(msg, "embeddings not implemented") ||
		strings.Contains(msg, "not support embeddings")
}

// ListModels returns all registered model names, sorted.
func (r *DefaultModelRouter) ListModels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	models := make([]string, 0, len(r.providers))
	for name := range r.providers {
		models = append(models, name)
	}
	sort.Strings(models)
	return models
}

// Health checks the health of the router and its providers
func (r *DefaultModelRouter) Health(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.providers) == 0 {
		return brainErrors.Transient("no model providers available")
	}
	for name, provider := range r.providers {
		if err := provider.Health(ctx); err != nil {
			slog.Warn("Provider unhealthy", "provider", name, "error", err)
			return brainErrors.Transient(fmt.Sprintf("provider %s unhealthy", name))
		}
	}

	return nil
}

// initProviders initializes all providers from configuration
func (r *DefaultModelRouter) initProviders() error {
	for _, entry := range r.cfg.Registry {
		provider, err := r.createProvider(entry)
		if err != nil {
			slog.Warn("Failed to create provider", "provider", entry.Provider, "model", entry.Name, "error", err)
			continue
		}

		r.providers[entry.Name] = provider
		slog.Debug("Provider initialized", "name", entry.Name, "type", entry.Provider)
	}

	if len(r.providers) == 0 && len(r.cfg.Registry) > 0 {
		return brainErrors.Internal("no providers initialized")
	}

	return nil
}

// resolveProvider resolves a provider by model name, falling back to the
// configured fallback model for unknown names.
func (r *DefaultModelRouter) resolveProvider(ctx context.Context, model string) (string, Provider, error) {
	select {
	case <-ctx.Done():
		return "", nil, brainErrors.Wrap(ctx.Err(), "provider resolution cancelled")
	default:
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if provider, exists := r.providers[model]; exists {
		return model, provider, nil
	}

	for _, candidate := range []string{r.cfg.Fallback, r.DefaultModel()} {
		if candidate == "" || candidate == model {
			continue
		}
		if provider, exists := r.providers[candidate]; exists {
			slog.Warn("Model not found, using substitute", "model", model, "substitute", candidate)
			return candidate, provider, nil
		}
	}

	return "", nil, brainErrors.NotFound(fmt.Sprintf("model %s not found", model))
}

// executeWithFallback runs call on the primary provider and moves to the
// fallback model on retryable failures.
func (r *DefaultModelRouter) executeWithFallback(ctx context.Context, model string, provider Provider, call func(Provider) (*contract.CompletionResponse, error)) (*contract.CompletionResponse, error) {
	log := logger.FromContext(ctx)

	maxAttempts := r.cfg.MaxFallbackAttempts
	if maxAttempts <= 0 {
		maxAttempts = config.DefaultModelMaxFallbackAttempts
	}

	currentModel := model
	currentProvider := provider

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, brainErrors.Wrap(ctx.Err(), "request execution cancelled")
		default:
		}

		if err := r.wait(ctx, currentProvider); err != nil {
			return nil, err
		}

		started := time.Now()
		resp, err := call(currentProvider)
		if err == nil {
			if resp.Model == "" {
				resp.Model = currentModel
			}
			log.Debug("Request completed", "model", currentModel, "attempt", attempt+1, "duration", time.Since(started))
			return resp, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Debug("Provider request cancelled", "model", currentModel, "error", err)
			return resp, brainErrors.Wrap(ctxErr, fmt.Sprintf("model %s cancelled", currentModel))
		}

		classified := r.classify(err)
		log.Warn("Provider request failed", "model", currentModel, "attempt", attempt+1, "error", err)

		var interrupted *streamInterrupted
		if errors.As(err, &interrupted) || !brainErrors.IsRetryable(classified) {
			return resp, brainErrors.Provider(classified, fmt.Sprintf("model %s failed", currentModel))
		}

		fallback := r.cfg.Fallback
		if fallback == "" || fallback == currentModel {
			return nil, brainErrors.Provider(classified, fmt.Sprintf("model %s failed", currentModel))
		}

		r.mu.RLock()
		fallbackProvider, exists := r.providers[fallback]
		r.mu.RUnlock()
		if !exists {
			return nil, brainErrors.Provider(classified, fmt.Sprintf("model %s failed and fallback %s is not registered", currentModel, fallback))
		}

		log.Info("Attempting fallback", "from", currentModel, "to", fallback)
		currentModel = fallback
		currentProvider = fallbackProvider
	}

	return nil, brainErrors.Provider(brainErrors.Transient("fallback exhausted"), "completion failed")
}

// classify attaches the mapped category to a raw provider error so the retry
// decision can use errors.Is.
func (r *DefaultModelRouter) classify(err error) error {
	mapped := r.mapper.MapError(err)
	if brainErrors.IsRetryable(mapped) {
		return fmt.Errorf("%w: %v", mapped, err)
	}
	return err
}

func (r *DefaultModelRouter) wait(ctx context.Context, provider Provider) error {
	limiter := r.limiter(provider.Type())
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return brainErrors.Wrap(err, "rate limiter")
	}
	return nil
}

func (r *DefaultModelRouter) limiter(providerType string) *rate.Limiter {
	if r.cfg.RequestsPerMinute <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[providerType]; ok {
		return l
	}
	burst := r.cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.cfg.RequestsPerMinute)), burst)
	r.limiters[providerType] = l
	return l
}

// createProvider creates a provider instance based on registry entry
func (r *DefaultModelRouter) createProvider(entry config.ModelRegistry) (Provider, error) {
	maxTokens := entry.MaxTokens
	if maxTokens <= 0 {
		maxTokens = config.DefaultModelMaxTokens
	}
	temperature := entry.Temperature
	if temperature <= 0 {
		temperature = config.DefaultModelTemperature
	}

	switch entry.Provider {
	case "openai":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOpenAIBaseURL
		}

		if entry.APIKey == "" {
			return nil, brainErrors.InvalidInput("API key required for OpenAI provider")
		}

		return NewProviderAdapter(openaiProvider.New(entry.APIKey, baseURL, r.cfg.Embedding), entry.Name, "openai", maxTokens, temperature), nil

	case "ollama":
		baseURL := entry.BaseURL
		if baseURL == "" {
			baseURL = config.DefaultOllamaBaseURL
		}

		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = config.DefaultOllamaAPIKey
		}

		return NewProviderAdapter(openaiProvider.New(apiKey, baseURL, ""), entry.Name, "ollama", maxTokens, temperature), nil

	case "anthropic":
		if entry.APIKey == "" {
			return nil, brainErrors.InvalidInput("API key required for Anthropic provider")
		}

		return NewProviderAdapter(anthropicProvider.New(entry.APIKey), entry.Name, "anthropic", maxTokens, temperature), nil

	case "gemini":
		if entry.APIKey == "" {
			return nil, brainErrors.InvalidInput("API key required for Gemini provider")
		}

		provider, err := geminiProvider.New(entry.APIKey)
		if err != nil {
			return nil, brainErrors.WrapWithCategory(err, "failed to create Gemini provider", brainErrors.ErrInternal)
		}

		return NewProviderAdapter(provider, entry.Name, "gemini", maxTokens, temperature), nil

	default:
		return nil, brainErrors.InvalidInput(fmt.Sprintf("unknown provider type: %s", entry.Provider))
	}
}
