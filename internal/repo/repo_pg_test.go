package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/convorag/internal/model"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
	"github.com/xxxsen/convorag/internal/testutil"
)

func TestPostgres_TranscriptRoundTrip(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	userID := uuid.NewString()
	folderID := uuid.NewString()
	tid := uuid.NewString()
	_, err := conn.ExecContext(ctx, `INSERT INTO folders (id, user_id, name, ctime) VALUES ($1, $2, $3, $4)`,
		folderID, userID, "Planning", time.Now().Unix())
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `INSERT INTO transcripts (id, user_id, folder_id, title, key_points, segments_key, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`, tid, userID, folderID, "Budget sync", `["budget"]`, tid+".json", time.Now().Unix())
	require.NoError(t, err)

	transcripts := NewTranscriptRepo(conn)
	got, err := transcripts.GetByID(ctx, userID, tid)
	require.NoError(t, err)
	require.Equal(t, folderID, got.FolderID)
	require.Equal(t, []string{"budget"}, got.KeyPoints)

	_, err = transcripts.GetByID(ctx, uuid.NewString(), tid)
	require.ErrorIs(t, err, appErr.ErrNotFound)

	state := model.IndexingState{VectorIndexedAt: time.Now().UnixMilli(), VectorChunkCount: 4, VectorIndexVersion: 1}
	require.NoError(t, transcripts.UpdateIndexingState(ctx, tid, state))

	items, err := transcripts.ListByFolder(ctx, userID, folderID)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, 4, items[0].VectorChunkCount)

	stale, err := transcripts.ListStale(ctx, 1000, 1000)
	require.NoError(t, err)
	found := false
	for _, s := range stale {
		found = found || s.ID == tid
	}
	require.True(t, found)

	folder, err := NewFolderRepo(conn).GetByID(ctx, userID, folderID)
	require.NoError(t, err)
	require.Equal(t, "Planning", folder.Name)
}

func TestPostgres_EmbeddingCache(t *testing.T) {
	conn, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	cache := NewEmbeddingCacheRepo(conn)
	modelName := "test-" + uuid.NewString()
	require.NoError(t, cache.Save(ctx, &model.EmbeddingCache{
		ModelName: modelName, TaskType: "RETRIEVAL_QUERY", ContentHash: "h1", Embedding: []float32{0.1, 0.2}, Ctime: 100,
	}))
	got, err := cache.GetMany(ctx, modelName, "RETRIEVAL_QUERY", []string{"h1", "h2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.InDeltaSlice(t, []float32{0.1, 0.2}, got["h1"], 1e-6)

	n, err := cache.DeleteBefore(ctx, 101)
	require.NoError(t, err)
	require.GreaterOrEqual(t, n, int64(1))
}
