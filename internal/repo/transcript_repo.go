package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/xxxsen/convorag/internal/model"
	"github.com/xxxsen/convorag/internal/pkg/dbutil"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
)

var transcriptFields = []string{
	"id", "user_id", "folder_id", "title", "summary", "key_points", "segments_key", "ctime",
	"vector_indexed_at", "vector_chunk_count", "vector_index_version",
}

var transcriptSummaryFields = []string{
	"id", "user_id", "folder_id", "title", "ctime",
	"vector_indexed_at", "vector_chunk_count", "vector_index_version",
}

type TranscriptRepo struct {
	db *sql.DB
}

func NewTranscriptRepo(db *sql.DB) *TranscriptRepo {
	return &TranscriptRepo{db: db}
}

// GetByID returns the transcript record without segments; those live in the
// segment store under SegmentsKey.
func (r *TranscriptRepo) GetByID(ctx context.Context, userID, id string) (*model.Transcript, error) {
	where := map[string]interface{}{
		"id":      id,
		"user_id": userID,
	}
	sqlStr, args, err := dbutil.Select("transcripts", where, transcriptFields)
	if err != nil {
		return nil, err
	}
	row := r.db.QueryRowContext(ctx, sqlStr, args...)
	var (
		item      model.Transcript
		folderID  sql.NullString
		keyPoints []byte
	)
	if err := row.Scan(&item.ID, &item.UserID, &folderID, &item.Title, &item.Summary, &keyPoints,
		&item.SegmentsKey, &item.Ctime, &item.VectorIndexedAt, &item.VectorChunkCount, &item.VectorIndexVersion); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	item.FolderID = folderID.String
	if len(keyPoints) > 0 {
		if err := json.Unmarshal(keyPoints, &item.KeyPoints); err != nil {
			return nil, fmt.Errorf("decode key points of %s: %w", id, err)
		}
	}
	return &item, nil
}

func (r *TranscriptRepo) UpdateIndexingState(ctx context.Context, id string, state model.IndexingState) error {
	where := map[string]interface{}{
		"id": id,
	}
	update := map[string]interface{}{
		"vector_indexed_at":    state.VectorIndexedAt,
		"vector_chunk_count":   state.VectorChunkCount,
		"vector_index_version": state.VectorIndexVersion,
	}
	sqlStr, args, err := dbutil.Update("transcripts", where, update)
	if err != nil {
		return err
	}
	result, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *TranscriptRepo) ListByFolder(ctx context.Context, userID, folderID string) ([]model.TranscriptSummary, error) {
	where := map[string]interface{}{
		"user_id":   userID,
		"folder_id": folderID,
		"_orderby":  "ctime desc",
	}
	sqlStr, args, err := dbutil.Select("transcripts", where, transcriptSummaryFields)
	if err != nil {
		return nil, err
	}
	return r.querySummaries(ctx, sqlStr, args)
}

// ListStale returns indexed transcripts whose index version is older than
// version, oldest index first.
func (r *TranscriptRepo) ListStale(ctx context.Context, version, limit int) ([]model.TranscriptSummary, error) {
	where := map[string]interface{}{
		"vector_index_version <": version,
		"vector_indexed_at >":    0,
		"_orderby":               "vector_indexed_at asc",
		"_limit":                 []uint{0, uint(limit)},
	}
	sqlStr, args, err := dbutil.Select("transcripts", where, transcriptSummaryFields)
	if err != nil {
		return nil, err
	}
	return r.querySummaries(ctx, sqlStr, args)
}

func (r *TranscriptRepo) querySummaries(ctx context.Context, sqlStr string, args []interface{}) ([]model.TranscriptSummary, error) {
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.TranscriptSummary
	for rows.Next() {
		var (
			item     model.TranscriptSummary
			folderID sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.UserID, &folderID, &item.Title, &item.Ctime,
			&item.VectorIndexedAt, &item.VectorChunkCount, &item.VectorIndexVersion); err != nil {
			return nil, err
		}
		item.FolderID = folderID.String
		out = append(out, item)
	}
	return out, rows.Err()
}
