package ai

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

type groupGenerator struct {
	items []GeneratorEntry
}

// NewGroupGenerator tries each generator in order until one succeeds.
func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 {
		return items[0].Generator
	}
	return &groupGenerator{items: items}
}

func (g *groupGenerator) Complete(ctx context.Context, systemPrompt, userPrompt string, opts GenerateOptions) (string, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Generator == nil {
			continue
		}
		res, err := item.Generator.Complete(ctx, systemPrompt, userPrompt, opts)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("generator failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return "", fmt.Errorf("generator not configured: %w", ErrUnavailable)
	}
	return "", lastErr
}

type groupEmbedder struct {
	items []EmbedderEntry
}

// NewGroupEmbedder falls back across providers serving one embedding model.
// Every entry must report the same model and dimension: stored points and
// query vectors have to come from a single vector space.
func NewGroupEmbedder(items []EmbedderEntry) (IEmbedder, error) {
	if len(items) == 0 {
		return nil, nil
	}
	model, dim := items[0].Embedder.ModelName(), items[0].Embedder.Dimension()
	for _, item := range items[1:] {
		if got := item.Embedder.ModelName(); got != model {
			return nil, fmt.Errorf("embedder %s model %q differs from %q", item.Name, got, model)
		}
		if item.Embedder.Dimension() != dim {
			return nil, fmt.Errorf("embedder %s dimension %d differs from %d", item.Name, item.Embedder.Dimension(), dim)
		}
	}
	if len(items) == 1 {
		return items[0].Embedder, nil
	}
	return &groupEmbedder{items: items}, nil
}

func (g *groupEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	res, err := g.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (g *groupEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	var lastErr error
	for i, item := range g.items {
		if item.Embedder == nil {
			continue
		}
		res, err := item.Embedder.EmbedBatch(ctx, texts, taskType)
		if err == nil {
			return res, nil
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn("embedder failed", zap.Int("index", i), zap.String("name", item.Name), zap.Error(err))
	}
	if lastErr == nil {
		return nil, fmt.Errorf("embedder not configured: %w", ErrUnavailable)
	}
	return nil, lastErr
}

func (g *groupEmbedder) ModelName() string {
	return g.items[0].Embedder.ModelName()
}

func (g *groupEmbedder) Dimension() int {
	return g.items[0].Embedder.Dimension()
}
