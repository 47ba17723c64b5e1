package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

var (
	ErrUnavailable = errors.New("ai provider unavailable")
	ErrBadResponse = errors.New("malformed ai provider response")
)

// Task types understood by embedding providers. OpenAI ignores them.
const (
	TaskTypeRetrievalDocument = "RETRIEVAL_DOCUMENT"
	TaskTypeRetrievalQuery    = "RETRIEVAL_QUERY"
)

type GenerateRequest struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type IGenerateProvider interface {
	Name() string
	Generate(ctx context.Context, model string, req *GenerateRequest) (string, error)
}

// IEmbedProvider embeds one request worth of texts. The returned vectors
// must be aligned with texts.
type IEmbedProvider interface {
	Name() string
	Embed(ctx context.Context, model string, texts []string, taskType string) ([][]float32, error)
}

type GenerateOptions struct {
	Temperature float64
	MaxTokens   int
}

type IGenerator interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, opts GenerateOptions) (string, error)
}

type IEmbedder interface {
	Embed(ctx context.Context, text string, taskType string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error)
	ModelName() string
	Dimension() int
}

// StatusError is a non-2xx reply from a provider endpoint.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s request failed: status %d: %s", e.Provider, e.StatusCode, e.Body)
}

type ProviderFactory func(args interface{}) (IGenerateProvider, error)
type EmbedProviderFactory func(args interface{}) (IEmbedProvider, error)

var (
	registryMu    sync.RWMutex
	registry      = map[string]ProviderFactory{}
	embedRegistry = map[string]EmbedProviderFactory{}
)

func Register(name string, factory ProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func RegisterEmbed(name string, factory EmbedProviderFactory) {
	key := normalizeName(name)
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	embedRegistry[key] = factory
	registryMu.Unlock()
}

func NewProvider(name string, args interface{}) (IGenerateProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("ai provider name is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported ai provider: %s", name)
	}
	return factory(args)
}

func NewEmbedProvider(name string, args interface{}) (IEmbedProvider, error) {
	key := normalizeName(name)
	if key == "" {
		return nil, fmt.Errorf("embed provider name is required")
	}
	registryMu.RLock()
	factory := embedRegistry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported embed provider: %s", name)
	}
	return factory(args)
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("ai provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode ai provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode ai provider config: %w", err)
	}
	return nil
}

// resolveAPIKey prefers an inline key and falls back to the named env var.
func resolveAPIKey(key, env string) string {
	key = strings.TrimSpace(key)
	if key != "" {
		return key
	}
	env = strings.TrimSpace(env)
	if env == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(env))
}
