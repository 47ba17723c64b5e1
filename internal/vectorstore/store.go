package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/convorag/internal/model"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
)

var ErrNotConfigured = errors.New("vector store not configured")

const (
	DefaultCollection = "transcript_chunks"
	UpsertBatchSize   = 100

	FieldUserID          = "userId"
	FieldTranscriptionID = "transcriptionId"
	FieldFolderID        = "folderId"
)

// IndexedFields are the payload fields every backend must index for
// equality filtering.
var IndexedFields = []string{FieldUserID, FieldTranscriptionID, FieldFolderID}

// Filter is an AND of equality terms. Empty fields are ignored.
type Filter struct {
	UserID          string
	TranscriptionID string
	FolderID        string
}

func (f Filter) Empty() bool {
	return f.UserID == "" && f.TranscriptionID == "" && f.FolderID == ""
}

type SearchRequest struct {
	Vector         []float32
	Filter         Filter
	Limit          int
	ScoreThreshold float64
}

// Backend is a concrete vector database. Distance is always cosine and
// scores are similarities in [-1, 1], higher is closer.
type Backend interface {
	Name() string
	CollectionExists(ctx context.Context) (bool, error)
	CreateCollection(ctx context.Context, dimension int) error
	CreatePayloadIndex(ctx context.Context, field string) error
	Upsert(ctx context.Context, points []model.Point) error
	Search(ctx context.Context, req *SearchRequest) ([]model.ScoredChunk, error)
	Delete(ctx context.Context, filter Filter) (int64, error)
	Count(ctx context.Context, filter Filter) (int64, error)
	Ping(ctx context.Context) error
}

// Store wraps a Backend with batching, tenant checks and the unconfigured
// state. A Store with a nil backend is valid and reports ErrNotConfigured.
type Store struct {
	backend   Backend
	dimension int

	mu    sync.RWMutex
	ready bool
}

func NewStore(backend Backend, dimension int) *Store {
	return &Store{backend: backend, dimension: dimension}
}

func (s *Store) Configured() bool {
	return s != nil && s.backend != nil
}

func (s *Store) BackendName() string {
	if !s.Configured() {
		return ""
	}
	return s.backend.Name()
}

// EnsureCollection creates the collection and its payload indexes when
// missing. On failure the store stays in the not-ready state and every
// mutating call returns ErrNotConfigured until a HealthCheck succeeds.
func (s *Store) EnsureCollection(ctx context.Context) error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	logger := logutil.GetLogger(ctx).With(zap.String("backend", s.backend.Name()))
	exists, err := s.backend.CollectionExists(ctx)
	if err != nil {
		s.setReady(false)
		return fmt.Errorf("check collection: %w", err)
	}
	if !exists {
		if err := s.backend.CreateCollection(ctx, s.dimension); err != nil {
			s.setReady(false)
			return fmt.Errorf("create collection: %w", err)
		}
		for _, field := range IndexedFields {
			if err := s.backend.CreatePayloadIndex(ctx, field); err != nil {
				s.setReady(false)
				return fmt.Errorf("create payload index %s: %w", field, err)
			}
		}
		logger.Info("vector collection created", zap.Int("dimension", s.dimension))
	}
	s.setReady(true)
	return nil
}

func (s *Store) setReady(v bool) {
	s.mu.Lock()
	s.ready = v
	s.mu.Unlock()
}

func (s *Store) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ready
}

func (s *Store) check() error {
	if !s.Configured() {
		return ErrNotConfigured
	}
	if !s.isReady() {
		return fmt.Errorf("%w: collection not ready", ErrNotConfigured)
	}
	return nil
}

// Upsert writes points in batches of UpsertBatchSize.
func (s *Store) Upsert(ctx context.Context, points []model.Point) error {
	if err := s.check(); err != nil {
		return err
	}
	for start := 0; start < len(points); start += UpsertBatchSize {
		end := start + UpsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		if err := s.backend.Upsert(ctx, points[start:end]); err != nil {
			return fmt.Errorf("upsert points [%d:%d]: %w", start, end, err)
		}
	}
	return nil
}

// Search always filters by user. TranscriptionID and FolderID narrow the
// result further when set.
func (s *Store) Search(ctx context.Context, vector []float32, filter Filter, limit int, scoreThreshold float64) ([]model.ScoredChunk, error) {
	if filter.UserID == "" {
		return nil, fmt.Errorf("%w: search requires user id", appErr.ErrInvalid)
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}
	return s.backend.Search(ctx, &SearchRequest{
		Vector:         vector,
		Filter:         filter,
		Limit:          limit,
		ScoreThreshold: scoreThreshold,
	})
}

func (s *Store) DeleteByTranscriptionID(ctx context.Context, transcriptionID string) (int64, error) {
	if transcriptionID == "" {
		return 0, fmt.Errorf("%w: transcription id is required", appErr.ErrInvalid)
	}
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.backend.Delete(ctx, Filter{TranscriptionID: transcriptionID})
}

func (s *Store) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", appErr.ErrInvalid)
	}
	if err := s.check(); err != nil {
		return 0, err
	}
	return s.backend.Delete(ctx, Filter{UserID: userID})
}

// CountByTranscriptionID returns 0 on any failure, including an
// unconfigured store.
func (s *Store) CountByTranscriptionID(ctx context.Context, transcriptionID string) int64 {
	if transcriptionID == "" || s.check() != nil {
		return 0
	}
	n, err := s.backend.Count(ctx, Filter{TranscriptionID: transcriptionID})
	if err != nil {
		logutil.GetLogger(ctx).Debug("count points failed", zap.String("transcription_id", transcriptionID), zap.Error(err))
		return 0
	}
	return n
}

// HealthCheck pings the backend. A store that failed EnsureCollection
// earlier retries it here.
func (s *Store) HealthCheck(ctx context.Context) bool {
	if !s.Configured() {
		return false
	}
	if err := s.backend.Ping(ctx); err != nil {
		logutil.GetLogger(ctx).Debug("vector store ping failed", zap.Error(err))
		return false
	}
	if s.isReady() {
		return true
	}
	if err := s.EnsureCollection(ctx); err != nil {
		logutil.GetLogger(ctx).Warn("vector collection still unavailable", zap.Error(err))
		return false
	}
	logutil.GetLogger(ctx).Info("vector store recovered")
	return true
}
