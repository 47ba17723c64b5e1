package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

const defaultStaleBatch = 20

type staleReindexer interface {
	ReindexStale(ctx context.Context, limit int) (int, error)
	IndexVersion() int
}

// StaleIndexJob rebuilds transcripts indexed under an older index version,
// at most batch per run.
type StaleIndexJob struct {
	indexer staleReindexer
	batch   int
}

func NewStaleIndexJob(indexer staleReindexer, batch int) *StaleIndexJob {
	if batch <= 0 {
		batch = defaultStaleBatch
	}
	return &StaleIndexJob{indexer: indexer, batch: batch}
}

func (j *StaleIndexJob) Name() string {
	return "stale_index"
}

func (j *StaleIndexJob) Run(ctx context.Context) error {
	n, err := j.indexer.ReindexStale(ctx, j.batch)
	if n > 0 {
		logutil.GetLogger(ctx).Info("stale transcripts reindexed",
			zap.Int("count", n),
			zap.Int("index_version", j.indexer.IndexVersion()),
		)
	}
	return err
}
