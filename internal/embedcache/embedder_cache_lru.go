package embedcache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/convorag/internal/ai"
)

func WrapLruCacheToEmbedder(e ai.IEmbedder, size int, ttl time.Duration) ai.IEmbedder {
	if e == nil || size <= 0 || ttl <= 0 {
		return e
	}
	return &lruEmbedder{
		next:  e,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ai.IEmbedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	res, err := l.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (l *lruEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int
	for i, text := range texts {
		keys[i], _, _ = buildCacheKey(l.next.ModelName(), taskType, text)
		if cached, ok := l.cache.Get(keys[i]); ok {
			out[i] = cloneEmbedding(cached)
			continue
		}
		missing = append(missing, i)
	}
	if hits := len(texts) - len(missing); hits > 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit (lru)", zap.String("task_type", taskType), zap.Int("hits", hits))
	}
	_, err := fillMisses(out, texts, missing, func(pending []string) ([][]float32, error) {
		return l.next.EmbedBatch(ctx, pending, taskType)
	})
	if err != nil {
		return nil, err
	}
	for _, idx := range missing {
		l.cache.Add(keys[idx], cloneEmbedding(out[idx]))
	}
	return out, nil
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func (l *lruEmbedder) Dimension() int {
	return l.next.Dimension()
}
