package job

import (
	"context"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultCacheMaxAgeDays = 30

type cacheCleaner interface {
	DeleteBefore(ctx context.Context, cutoff int64) (int64, error)
}

// EmbeddingCacheCleanupJob drops persisted embeddings older than maxAgeDays.
type EmbeddingCacheCleanupJob struct {
	repo       cacheCleaner
	maxAgeDays int
	now        func() time.Time
}

func NewEmbeddingCacheCleanupJob(repo cacheCleaner, maxAgeDays int) *EmbeddingCacheCleanupJob {
	if maxAgeDays <= 0 {
		maxAgeDays = defaultCacheMaxAgeDays
	}
	return &EmbeddingCacheCleanupJob{repo: repo, maxAgeDays: maxAgeDays, now: time.Now}
}

func (j *EmbeddingCacheCleanupJob) Name() string {
	return "embedding_cache_cleanup"
}

func (j *EmbeddingCacheCleanupJob) Run(ctx context.Context) error {
	if j.repo == nil {
		return nil
	}
	cutoff := j.now().Add(-time.Duration(j.maxAgeDays) * 24 * time.Hour).Unix()
	n, err := j.repo.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		logutil.GetLogger(ctx).Info("embedding cache pruned", zap.Int64("rows", n), zap.Int("max_age_days", j.maxAgeDays))
	}
	return nil
}
