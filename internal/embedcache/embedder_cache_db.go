package embedcache

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/convorag/internal/ai"
	"github.com/xxxsen/convorag/internal/model"
)

type ICacheRepo interface {
	GetMany(ctx context.Context, modelName, taskType string, contentHashes []string) (map[string][]float32, error)
	Save(ctx context.Context, item *model.EmbeddingCache) error
}

func WrapDBCacheToEmbedder(e ai.IEmbedder, cacheRepo ICacheRepo) ai.IEmbedder {
	if e == nil || cacheRepo == nil {
		return e
	}
	return &dbEmbedder{next: e, repo: cacheRepo}
}

type dbEmbedder struct {
	next ai.IEmbedder
	repo ICacheRepo
}

func (d *dbEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	res, err := d.EmbedBatch(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

func (d *dbEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	hashes := make([]string, len(texts))
	var modelName string
	for i, text := range texts {
		_, hashes[i], modelName = buildCacheKey(d.next.ModelName(), taskType, text)
	}
	cached, err := d.repo.GetMany(ctx, modelName, taskType, hashes)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	var missing []int
	for i, h := range hashes {
		if values, ok := cached[h]; ok {
			out[i] = values
			continue
		}
		missing = append(missing, i)
	}
	if hits := len(texts) - len(missing); hits > 0 {
		logutil.GetLogger(ctx).Debug("embedding cache hit (db)", zap.String("task_type", taskType), zap.Int("hits", hits))
	}
	if _, err := fillMisses(out, texts, missing, func(pending []string) ([][]float32, error) {
		return d.next.EmbedBatch(ctx, pending, taskType)
	}); err != nil {
		return nil, err
	}
	now := time.Now().Unix()
	for _, idx := range missing {
		if err := d.repo.Save(ctx, &model.EmbeddingCache{
			ModelName:   modelName,
			TaskType:    taskType,
			ContentHash: hashes[idx],
			Embedding:   out[idx],
			Ctime:       now,
		}); err != nil {
			logutil.GetLogger(ctx).Warn("failed to cache embedding", zap.Error(err))
		}
	}
	return out, nil
}

func (d *dbEmbedder) ModelName() string {
	return d.next.ModelName()
}

func (d *dbEmbedder) Dimension() int {
	return d.next.Dimension()
}
