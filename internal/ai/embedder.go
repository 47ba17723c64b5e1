package ai

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const DefaultEmbedBatchSize = 100

type EmbedderOptions struct {
	Dimension int
	BatchSize int
	Limiter   *rate.Limiter
	Retry     RetryConfig
}

type embedder struct {
	provider  IEmbedProvider
	model     string
	dimension int
	batchSize int
	limiter   *rate.Limiter
	retry     RetryConfig
}

func NewEmbedder(p IEmbedProvider, model string, opts EmbedderOptions) IEmbedder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultEmbedBatchSize
	}
	return &embedder{
		provider:  p,
		model:     model,
		dimension: opts.Dimension,
		batchSize: opts.BatchSize,
		limiter:   opts.Limiter,
		retry:     opts.Retry,
	}
}

func (e *embedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	res, err := e.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// EmbedBatch issues ceil(len(texts)/batchSize) provider requests and returns
// vectors in input order.
func (e *embedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := start + e.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]
		var vectors [][]float32
		err := retry(ctx, e.retry, func() error {
			if e.limiter != nil {
				if err := e.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			var err error
			vectors, err = e.provider.Embed(ctx, e.model, batch, taskType)
			if err != nil {
				logutil.GetLogger(ctx).Warn("embed request failed",
					zap.String("provider", e.provider.Name()),
					zap.Int("batch_size", len(batch)),
					zap.Error(err),
				)
			}
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("embed batch [%d:%d]: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrBadResponse, len(vectors), len(batch))
		}
		for _, vec := range vectors {
			if e.dimension > 0 && len(vec) != e.dimension {
				return nil, fmt.Errorf("%w: embedding dimension %d, expected %d", ErrBadResponse, len(vec), e.dimension)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}

func (e *embedder) ModelName() string {
	return e.model
}

func (e *embedder) Dimension() int {
	return e.dimension
}
