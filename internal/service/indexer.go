package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xxxsen/convorag/internal/ai"
	"github.com/xxxsen/convorag/internal/chunker"
	"github.com/xxxsen/convorag/internal/model"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
	"github.com/xxxsen/convorag/internal/pkg/mdtext"
	"github.com/xxxsen/convorag/internal/vectorstore"
)

type IndexerOptions struct {
	IndexVersion int
	Metrics      *Metrics
}

// Indexer materialises transcripts into the vector store. Re-indexing is
// delete-then-upsert: a reader between the two steps sees the transcript as
// unindexed. Calls for the same user and transcript inside one process share
// a single run; separate processes may still index the same transcript twice, and
// the last writer's point set wins.
type Indexer struct {
	transcripts ITranscriptStore
	vectors     IVectorStore
	embedder    ai.IEmbedder
	chunker     *chunker.Chunker
	version     int
	metrics     *Metrics
	group       singleflight.Group
	now         func() time.Time
}

func NewIndexer(transcripts ITranscriptStore, vectors IVectorStore, embedder ai.IEmbedder, ch *chunker.Chunker, opts IndexerOptions) *Indexer {
	if ch == nil {
		ch = chunker.New(chunker.DefaultConfig())
	}
	if opts.IndexVersion <= 0 {
		opts.IndexVersion = 1
	}
	return &Indexer{
		transcripts: transcripts,
		vectors:     vectors,
		embedder:    embedder,
		chunker:     ch,
		version:     opts.IndexVersion,
		metrics:     opts.Metrics,
		now:         time.Now,
	}
}

func (x *Indexer) IndexVersion() int {
	return x.version
}

// IndexTranscription returns the number of points written, content chunks
// plus the metadata point, or 0 when the transcript has no segments.
func (x *Indexer) IndexTranscription(ctx context.Context, userID, transcriptionID string) (int, error) {
	v, err, shared := x.group.Do(userID+"/"+transcriptionID, func() (interface{}, error) {
		return x.index(ctx, userID, transcriptionID)
	})
	if shared {
		logutil.GetLogger(ctx).Debug("joined in-flight indexing", zap.String("transcription_id", transcriptionID))
	}
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (x *Indexer) index(ctx context.Context, userID, transcriptionID string) (n int, err error) {
	started := x.now()
	defer func() { x.metrics.observeIndex(n, started, err) }()
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID), zap.String("transcription_id", transcriptionID))

	transcript, err := x.transcripts.GetTranscript(ctx, userID, transcriptionID)
	if err != nil {
		return 0, err
	}
	segments, err := x.transcripts.LoadSegments(ctx, transcript)
	if err != nil {
		return 0, err
	}
	if len(segments) == 0 {
		logger.Info("transcript has no segments, nothing to index")
		if transcript.VectorIndexedAt > 0 {
			if _, err := x.PurgeTranscript(ctx, transcriptionID); err != nil {
				return 0, err
			}
		}
		return 0, nil
	}
	if _, err := x.vectors.DeleteByTranscriptionID(ctx, transcriptionID); err != nil {
		return 0, fmt.Errorf("delete existing points: %w", err)
	}
	chunks := x.chunker.ChunkSegments(segments)
	texts := make([]string, 0, len(chunks)+1)
	for _, c := range chunks {
		texts = append(texts, c.Text)
	}
	metaText := buildMetadataText(transcript)
	texts = append(texts, metaText)

	vectors, err := x.embedder.EmbedBatch(ctx, texts, ai.TaskTypeRetrievalDocument)
	if err != nil {
		logger.Error("embed chunks failed", zap.Error(err))
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return 0, fmt.Errorf("%w: %d vectors for %d texts", ai.ErrBadResponse, len(vectors), len(texts))
	}

	now := x.now().UnixMilli()
	points := buildPoints(transcript, chunks, metaText, vectors, now)
	if err := x.vectors.Upsert(ctx, points); err != nil {
		return 0, fmt.Errorf("upsert points: %w", err)
	}
	state := model.IndexingState{
		VectorIndexedAt:    now,
		VectorChunkCount:   len(points),
		VectorIndexVersion: x.version,
	}
	if err := x.transcripts.UpdateIndexingState(ctx, transcriptionID, state); err != nil {
		return 0, fmt.Errorf("update indexing state: %w", err)
	}
	logger.Info("transcript indexed", zap.Int("chunks", len(chunks)), zap.Int("points", len(points)))
	return len(points), nil
}

func (x *Indexer) IsIndexed(ctx context.Context, transcriptionID string) bool {
	return x.vectors.CountByTranscriptionID(ctx, transcriptionID) > 0
}

// EnsureIndexed indexes the transcript only when the store holds no points
// for it. It returns the number of points written by this call.
func (x *Indexer) EnsureIndexed(ctx context.Context, userID, transcriptionID string) (int, error) {
	if x.IsIndexed(ctx, transcriptionID) {
		return 0, nil
	}
	return x.IndexTranscription(ctx, userID, transcriptionID)
}

// PurgeTranscript drops every point of a transcript and clears its indexing
// state so the stale job does not pick it up again. A transcript row that is
// already gone upstream only loses its points.
func (x *Indexer) PurgeTranscript(ctx context.Context, transcriptionID string) (int64, error) {
	n, err := x.vectors.DeleteByTranscriptionID(ctx, transcriptionID)
	if err != nil {
		return 0, err
	}
	if err := x.transcripts.UpdateIndexingState(ctx, transcriptionID, model.IndexingState{}); err != nil && !appErr.IsNotFound(err) {
		return n, fmt.Errorf("reset indexing state: %w", err)
	}
	logutil.GetLogger(ctx).Info("transcript points purged", zap.String("transcription_id", transcriptionID), zap.Int64("deleted", n))
	return n, nil
}

func (x *Indexer) PurgeUser(ctx context.Context, userID string) (int64, error) {
	n, err := x.vectors.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, err
	}
	logutil.GetLogger(ctx).Info("user points purged", zap.String("user_id", userID), zap.Int64("deleted", n))
	return n, nil
}

// ReindexStale re-indexes up to limit transcripts built with an older index
// version. A failing transcript is logged and skipped.
func (x *Indexer) ReindexStale(ctx context.Context, limit int) (int, error) {
	items, err := x.transcripts.ListStale(ctx, x.version, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale transcripts: %w", err)
	}
	done := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if _, err := x.IndexTranscription(ctx, item.UserID, item.ID); err != nil {
			logutil.GetLogger(ctx).Error("reindex stale transcript failed",
				zap.String("transcription_id", item.ID), zap.Int("from_version", item.VectorIndexVersion), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// buildMetadataText joins the title, the first summary paragraph and the
// key-point topics, skipping whatever is absent.
func buildMetadataText(t *model.Transcript) string {
	var parts []string
	if title := strings.TrimSpace(t.Title); title != "" {
		parts = append(parts, "Conversation: "+title)
	}
	if intro := mdtext.FirstParagraph(t.Summary); intro != "" {
		parts = append(parts, "Summary: "+intro)
	}
	var topics []string
	for _, kp := range t.KeyPoints {
		if kp = strings.TrimSpace(kp); kp != "" {
			topics = append(topics, kp)
		}
	}
	if len(topics) > 0 {
		parts = append(parts, "Topics: "+strings.Join(topics, ", "))
	}
	if len(parts) == 0 {
		return "Conversation: untitled"
	}
	return strings.Join(parts, "\n")
}

// buildPoints expects vectors for every chunk followed by the metadata
// vector.
func buildPoints(t *model.Transcript, chunks []model.Chunk, metaText string, vectors [][]float32, indexedAt int64) []model.Point {
	var folderID *string
	if t.FolderID != "" {
		id := t.FolderID
		folderID = &id
	}
	base := model.Payload{
		UserID:            t.UserID,
		TranscriptionID:   t.ID,
		FolderID:          folderID,
		ConversationTitle: t.Title,
		ConversationDate:  t.Ctime,
		IndexedAt:         indexedAt,
	}
	points := make([]model.Point, 0, len(chunks)+1)
	for i, c := range chunks {
		p := base
		p.ChunkType = model.ChunkTypeContent
		p.Speaker = c.Speaker
		p.StartTime = c.StartTime
		p.EndTime = c.EndTime
		p.Text = c.Text
		p.SegmentIndex = c.SegmentIndex
		p.ChunkIndex = c.ChunkIndex
		p.TotalChunks = c.TotalChunks
		points = append(points, model.Point{
			ID:      vectorstore.PointID(t.ID, model.ChunkTypeContent, c.SegmentIndex, c.ChunkIndex),
			Vector:  vectors[i],
			Payload: p,
		})
	}
	meta := base
	meta.ChunkType = model.ChunkTypeMetadata
	meta.Text = metaText
	meta.SegmentIndex = model.MetadataSegmentIndex
	meta.TotalChunks = 1
	points = append(points, model.Point{
		ID:      vectorstore.PointID(t.ID, model.ChunkTypeMetadata, model.MetadataSegmentIndex, 0),
		Vector:  vectors[len(chunks)],
		Payload: meta,
	})
	return points
}
