package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/convorag/internal/model"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
	"github.com/xxxsen/convorag/internal/segmentstore"
	"github.com/xxxsen/convorag/internal/vectorstore"
)

// ITranscriptStore is the external transcript collaborator. GetTranscript
// returns the record only; LoadSegments fetches the diarised body.
type ITranscriptStore interface {
	GetTranscript(ctx context.Context, userID, id string) (*model.Transcript, error)
	LoadSegments(ctx context.Context, transcript *model.Transcript) ([]model.SpeakerSegment, error)
	UpdateIndexingState(ctx context.Context, id string, state model.IndexingState) error
	ListStale(ctx context.Context, version, limit int) ([]model.TranscriptSummary, error)
}

type IFolderStore interface {
	GetFolder(ctx context.Context, userID, id string) (*model.Folder, error)
	ListTranscriptsInFolder(ctx context.Context, userID, folderID string) ([]model.TranscriptSummary, error)
}

// IVectorStore is satisfied by *vectorstore.Store.
type IVectorStore interface {
	Upsert(ctx context.Context, points []model.Point) error
	Search(ctx context.Context, vector []float32, filter vectorstore.Filter, limit int, scoreThreshold float64) ([]model.ScoredChunk, error)
	DeleteByTranscriptionID(ctx context.Context, transcriptionID string) (int64, error)
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	CountByTranscriptionID(ctx context.Context, transcriptionID string) int64
	HealthCheck(ctx context.Context) bool
}

type transcriptRepo interface {
	GetByID(ctx context.Context, userID, id string) (*model.Transcript, error)
	UpdateIndexingState(ctx context.Context, id string, state model.IndexingState) error
	ListByFolder(ctx context.Context, userID, folderID string) ([]model.TranscriptSummary, error)
	ListStale(ctx context.Context, version, limit int) ([]model.TranscriptSummary, error)
}

type folderRepo interface {
	GetByID(ctx context.Context, userID, id string) (*model.Folder, error)
}

// RepoStore serves both collaborator interfaces from the Postgres repos and
// the segment blob store.
type RepoStore struct {
	transcripts transcriptRepo
	folders     folderRepo
	segments    segmentstore.Store
}

func NewRepoStore(transcripts transcriptRepo, folders folderRepo, segments segmentstore.Store) *RepoStore {
	return &RepoStore{transcripts: transcripts, folders: folders, segments: segments}
}

func (s *RepoStore) GetTranscript(ctx context.Context, userID, id string) (*model.Transcript, error) {
	return s.transcripts.GetByID(ctx, userID, id)
}

// LoadSegments treats a transcript without a stored body as having no
// segments.
func (s *RepoStore) LoadSegments(ctx context.Context, transcript *model.Transcript) ([]model.SpeakerSegment, error) {
	if transcript.SegmentsKey == "" {
		return nil, nil
	}
	segments, err := s.segments.Load(ctx, transcript.SegmentsKey)
	if err != nil {
		if errors.Is(err, appErr.ErrNotFound) {
			logutil.GetLogger(ctx).Warn("transcript segments missing",
				zap.String("transcription_id", transcript.ID), zap.String("key", transcript.SegmentsKey))
			return nil, nil
		}
		return nil, fmt.Errorf("load segments: %w", err)
	}
	return segments, nil
}

func (s *RepoStore) UpdateIndexingState(ctx context.Context, id string, state model.IndexingState) error {
	return s.transcripts.UpdateIndexingState(ctx, id, state)
}

func (s *RepoStore) ListStale(ctx context.Context, version, limit int) ([]model.TranscriptSummary, error) {
	return s.transcripts.ListStale(ctx, version, limit)
}

func (s *RepoStore) GetFolder(ctx context.Context, userID, id string) (*model.Folder, error) {
	return s.folders.GetByID(ctx, userID, id)
}

func (s *RepoStore) ListTranscriptsInFolder(ctx context.Context, userID, folderID string) ([]model.TranscriptSummary, error) {
	return s.transcripts.ListByFolder(ctx, userID, folderID)
}
