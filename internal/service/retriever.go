package service

import (
	"context"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xxxsen/convorag/internal/ai"
	"github.com/xxxsen/convorag/internal/model"
	"github.com/xxxsen/convorag/internal/vectorstore"
)

type RetrieverOptions struct {
	ScoreThreshold float64
	// IndexWorkers bounds parallel lazy indexing in folder scope. 1 keeps
	// it sequential.
	IndexWorkers int
}

// Retriever resolves a question's scope, lazily indexes what the scope
// covers and runs the filtered vector search. Every search carries the
// caller's user id.
type Retriever struct {
	indexer     *Indexer
	transcripts ITranscriptStore
	folders     IFolderStore
	vectors     IVectorStore
	embedder    ai.IEmbedder
	opts        RetrieverOptions
}

func NewRetriever(indexer *Indexer, transcripts ITranscriptStore, folders IFolderStore, vectors IVectorStore, embedder ai.IEmbedder, opts RetrieverOptions) *Retriever {
	if opts.IndexWorkers <= 0 {
		opts.IndexWorkers = 1
	}
	return &Retriever{
		indexer:     indexer,
		transcripts: transcripts,
		folders:     folders,
		vectors:     vectors,
		embedder:    embedder,
		opts:        opts,
	}
}

// SearchConversation returns the hits together with the owned transcript
// record, whose summary feeds the prompt.
func (r *Retriever) SearchConversation(ctx context.Context, userID, transcriptionID, question string, limit int) ([]model.ScoredChunk, *model.Transcript, error) {
	transcript, err := r.transcripts.GetTranscript(ctx, userID, transcriptionID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.indexer.EnsureIndexed(ctx, userID, transcriptionID); err != nil {
		return nil, nil, fmt.Errorf("ensure indexed: %w", err)
	}
	hits, err := r.search(ctx, question, vectorstore.Filter{UserID: userID, TranscriptionID: transcriptionID}, limit)
	if err != nil {
		return nil, nil, err
	}
	return hits, transcript, nil
}

func (r *Retriever) SearchFolder(ctx context.Context, userID, folderID, question string, limit int) ([]model.ScoredChunk, error) {
	if _, err := r.folders.GetFolder(ctx, userID, folderID); err != nil {
		return nil, err
	}
	items, err := r.folders.ListTranscriptsInFolder(ctx, userID, folderID)
	if err != nil {
		return nil, fmt.Errorf("list folder transcripts: %w", err)
	}
	if err := r.indexFolder(ctx, userID, items); err != nil {
		return nil, err
	}
	return r.search(ctx, question, vectorstore.Filter{UserID: userID, FolderID: folderID}, limit)
}

func (r *Retriever) SearchGlobal(ctx context.Context, userID, question string, limit int) ([]model.ScoredChunk, error) {
	return r.search(ctx, question, vectorstore.Filter{UserID: userID}, limit)
}

// indexFolder indexes every transcript of the folder that has no points yet.
// With more than one worker the embedder's rate limiter is what keeps the
// provider request rate bounded.
func (r *Retriever) indexFolder(ctx context.Context, userID string, items []model.TranscriptSummary) error {
	var pending []string
	for _, item := range items {
		if !r.indexer.IsIndexed(ctx, item.ID) {
			pending = append(pending, item.ID)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	logutil.GetLogger(ctx).Info("indexing folder transcripts",
		zap.String("user_id", userID), zap.Int("pending", len(pending)), zap.Int("workers", r.opts.IndexWorkers))
	if r.opts.IndexWorkers == 1 {
		for _, id := range pending {
			if _, err := r.indexer.IndexTranscription(ctx, userID, id); err != nil {
				return fmt.Errorf("index transcript %s: %w", id, err)
			}
		}
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.opts.IndexWorkers)
	for _, id := range pending {
		id := id
		g.Go(func() error {
			if _, err := r.indexer.IndexTranscription(gctx, userID, id); err != nil {
				return fmt.Errorf("index transcript %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Retriever) search(ctx context.Context, question string, filter vectorstore.Filter, limit int) ([]model.ScoredChunk, error) {
	vector, err := r.embedder.Embed(ctx, question, ai.TaskTypeRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	hits, err := r.vectors.Search(ctx, vector, filter, limit, r.opts.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Debug("vector search done",
		zap.String("user_id", filter.UserID), zap.String("transcription_id", filter.TranscriptionID),
		zap.String("folder_id", filter.FolderID), zap.Int("limit", limit), zap.Int("hits", len(hits)))
	return hits, nil
}
