package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/convorag/internal/model"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
	"github.com/xxxsen/convorag/internal/vectorstore"
)

func TestIndexTranscription_WritesContentAndMetadata(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{
		ID: "t1", UserID: "u1", FolderID: "f1", Title: "Budget review", Ctime: 1700,
		Summary: "The team approved the budget.\n\nDetails follow.", KeyPoints: []string{"budget", "hiring"},
	}, budgetMeeting...)
	ctx := context.Background()

	n, err := f.indexer.IndexTranscription(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, len(budgetMeeting)+1, n)
	require.Equal(t, 1, f.embedder.calls())
	require.EqualValues(t, n, f.vectors.CountByTranscriptionID(ctx, "t1"))

	state := f.store.state("t1")
	require.Equal(t, n, state.VectorChunkCount)
	require.Equal(t, 2, state.VectorIndexVersion)
	require.NotZero(t, state.VectorIndexedAt)

	hits, err := f.vectors.Search(ctx, wordVector("Budget review approved hiring"), vectorstore.Filter{UserID: "u1"}, 10, -1)
	require.NoError(t, err)
	var metadata []model.ScoredChunk
	for _, h := range hits {
		require.Equal(t, "f1", h.Payload.FolderIDValue())
		require.Equal(t, "Budget review", h.Payload.ConversationTitle)
		require.EqualValues(t, 1700, h.Payload.ConversationDate)
		if h.Payload.ChunkType == model.ChunkTypeMetadata {
			metadata = append(metadata, h)
		}
	}
	require.Len(t, metadata, 1)
	require.Equal(t, model.MetadataSegmentIndex, metadata[0].Payload.SegmentIndex)
	require.Equal(t, "Conversation: Budget review\nSummary: The team approved the budget.\nTopics: budget, hiring", metadata[0].Payload.Text)
}

func TestIndexTranscription_IsIdempotent(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1", Title: "Sync"}, budgetMeeting...)
	ctx := context.Background()

	first, err := f.indexer.IndexTranscription(ctx, "u1", "t1")
	require.NoError(t, err)
	second, err := f.indexer.IndexTranscription(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.EqualValues(t, second, f.vectors.CountByTranscriptionID(ctx, "t1"))
}

func TestIndexTranscription_NoSegments(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1", Title: "Empty"})

	n, err := f.indexer.IndexTranscription(context.Background(), "u1", "t1")
	require.NoError(t, err)
	require.Zero(t, n)
	require.Zero(t, f.embedder.calls())
	require.Zero(t, f.store.state("t1").VectorIndexedAt)
}

func TestIndexTranscription_Errors(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1"}, budgetMeeting...)
	ctx := context.Background()

	_, err := f.indexer.IndexTranscription(ctx, "u2", "t1")
	require.ErrorIs(t, err, appErr.ErrNotFound)

	f.embedder.fail = errEmbed
	_, err = f.indexer.IndexTranscription(ctx, "u1", "t1")
	require.ErrorIs(t, err, errEmbed)
	require.Zero(t, f.store.state("t1").VectorIndexedAt)
}

// gatedEmbedder blocks every batch until release is closed.
type gatedEmbedder struct {
	*wordEmbedder
	entered chan struct{}
	release chan struct{}
}

func (g *gatedEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.wordEmbedder.EmbedBatch(ctx, texts, taskType)
}

func TestIndexTranscription_ConcurrentCallerMustOwnTranscript(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "tA", UserID: "alice"}, budgetMeeting...)
	gate := &gatedEmbedder{wordEmbedder: f.embedder, entered: make(chan struct{}, 1), release: make(chan struct{})}
	idx := NewIndexer(f.store, f.vectors, gate, nil, IndexerOptions{IndexVersion: 2})
	ctx := context.Background()

	var once sync.Once
	release := func() { once.Do(func() { close(gate.release) }) }
	owner := make(chan error, 1)
	go func() {
		_, err := idx.IndexTranscription(ctx, "alice", "tA")
		owner <- err
	}()
	<-gate.entered

	timer := time.AfterFunc(time.Second, release)
	defer timer.Stop()
	n, err := idx.IndexTranscription(ctx, "mallory", "tA")
	release()
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.Zero(t, n)

	require.NoError(t, <-owner)
	require.Equal(t, 4, f.store.state("tA").VectorChunkCount)
}

func TestIndexTranscription_UnconfiguredStore(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1"}, budgetMeeting...)
	idx := NewIndexer(f.store, vectorstore.NewStore(nil, testDim), f.embedder, nil, IndexerOptions{})

	_, err := idx.IndexTranscription(context.Background(), "u1", "t1")
	require.ErrorIs(t, err, vectorstore.ErrNotConfigured)
	require.False(t, idx.IsIndexed(context.Background(), "t1"))
}

func TestEnsureIndexed_SkipsIndexedTranscripts(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1"}, budgetMeeting...)
	ctx := context.Background()

	n, err := f.indexer.EnsureIndexed(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Equal(t, 4, n)
	n, err = f.indexer.EnsureIndexed(ctx, "u1", "t1")
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, 1, f.embedder.calls())
}

func TestPurge(t *testing.T) {
	f := newFixture(t, 1)
	f.store.addTranscript(model.Transcript{ID: "t1", UserID: "u1"}, budgetMeeting...)
	f.store.addTranscript(model.Transcript{ID: "t2", UserID: "u1"}, budgetMeeting[:1]...)
	f.store.addTranscript(model.Transcript{ID: "t3", UserID: "u2"}, budgetMeeting[:1]...)
	ctx := context.Background()
	for _, tc := range []struct{ user, id string }{{"u1", "t1"}, {"u1", "t2"}, {"u2", "t3"}} {
		_, err := f.indexer.IndexTranscription(ctx, tc.user, tc.id)
		require.NoError(t, err)
	}

	n, err := f.indexer.PurgeTranscript(ctx, "t1")
	require.NoError(t, err)
	require.EqualValues(t, 4, n)
	require.Equal(t, model.IndexingState{}, f.store.state("t1"))
	stale, err := f.store.ListStale(ctx, 3, 10)
	require.NoError(t, err)
	for _, item := range stale {
		require.NotEqual(t, "t1", item.ID)
	}
	_, err = f.indexer.PurgeTranscript(ctx, "deleted-upstream")
	require.NoError(t, err)
	n, err = f.indexer.PurgeUser(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
	require.EqualValues(t, 2, f.vectors.CountByTranscriptionID(ctx, "t3"))
}

func TestReindexStale(t *testing.T) {
	f := newFixture(t, 1)
	old := model.IndexingState{VectorIndexedAt: 1, VectorChunkCount: 2, VectorIndexVersion: 1}
	current := model.IndexingState{VectorIndexedAt: 1, VectorChunkCount: 2, VectorIndexVersion: 2}
	f.store.addTranscript(model.Transcript{ID: "old", UserID: "u1", IndexingState: old}, budgetMeeting...)
	f.store.addTranscript(model.Transcript{ID: "fresh", UserID: "u1", IndexingState: current}, budgetMeeting...)

	n, err := f.indexer.ReindexStale(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, 2, f.store.state("old").VectorIndexVersion)
	require.EqualValues(t, 4, f.vectors.CountByTranscriptionID(context.Background(), "old"))
	require.Zero(t, f.vectors.CountByTranscriptionID(context.Background(), "fresh"))
}

func TestReindexStale_ClearsTranscriptWithoutSegments(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()
	f.store.addTranscript(model.Transcript{ID: "gone", UserID: "u1"}, budgetMeeting...)
	_, err := f.indexer.IndexTranscription(ctx, "u1", "gone")
	require.NoError(t, err)
	require.EqualValues(t, 4, f.vectors.CountByTranscriptionID(ctx, "gone"))

	// segments blob lost after an index built under the previous version
	old := model.IndexingState{VectorIndexedAt: 1, VectorChunkCount: 4, VectorIndexVersion: 1}
	f.store.addTranscript(model.Transcript{ID: "gone", UserID: "u1", IndexingState: old})
	f.store.addTranscript(model.Transcript{ID: "old", UserID: "u1", IndexingState: old}, budgetMeeting...)

	_, err = f.indexer.ReindexStale(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, model.IndexingState{}, f.store.state("gone"))
	require.Zero(t, f.vectors.CountByTranscriptionID(ctx, "gone"))
	require.Equal(t, 2, f.store.state("old").VectorIndexVersion)

	stale, err := f.store.ListStale(ctx, 2, 10)
	require.NoError(t, err)
	require.Empty(t, stale)
	n, err := f.indexer.ReindexStale(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestBuildMetadataText(t *testing.T) {
	require.Equal(t, "Conversation: untitled", buildMetadataText(&model.Transcript{}))
	require.Equal(t, "Topics: a, b", buildMetadataText(&model.Transcript{KeyPoints: []string{" a ", "", "b"}}))
	require.Equal(t, "Conversation: Kickoff\nSummary: Goals agreed.",
		buildMetadataText(&model.Transcript{Title: "Kickoff", Summary: "# Overview\n\nGoals agreed."}))
}
