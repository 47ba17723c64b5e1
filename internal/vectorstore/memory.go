package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/xxxsen/convorag/internal/model"
)

// memoryBackend is a brute-force cosine index used for tests and
// single-node development setups.
type memoryBackend struct {
	mu        sync.RWMutex
	exists    bool
	dimension int
	indexes   map[string]bool
	points    map[string]model.Point
}

func NewMemoryBackend() Backend {
	return &memoryBackend{
		indexes: make(map[string]bool),
		points:  make(map[string]model.Point),
	}
}

func (m *memoryBackend) Name() string {
	return "memory"
}

func (m *memoryBackend) CollectionExists(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exists, nil
}

func (m *memoryBackend) CreateCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension: %d", dimension)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exists = true
	m.dimension = dimension
	return nil
}

func (m *memoryBackend) CreatePayloadIndex(ctx context.Context, field string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[field] = true
	return nil
}

func (m *memoryBackend) Upsert(ctx context.Context, points []model.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		if len(p.Vector) != m.dimension {
			return fmt.Errorf("point %s: vector size %d, collection expects %d", p.ID, len(p.Vector), m.dimension)
		}
		p.Vector = append([]float32(nil), p.Vector...)
		m.points[p.ID] = p
	}
	return nil
}

func (m *memoryBackend) Search(ctx context.Context, req *SearchRequest) ([]model.ScoredChunk, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.ScoredChunk
	for id, p := range m.points {
		if !matches(&p.Payload, req.Filter) {
			continue
		}
		score := cosine(req.Vector, p.Vector)
		if score < req.ScoreThreshold {
			continue
		}
		out = append(out, model.ScoredChunk{ID: id, Score: score, Payload: p.Payload})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > req.Limit {
		out = out[:req.Limit]
	}
	return out, nil
}

func (m *memoryBackend) Delete(ctx context.Context, filter Filter) (int64, error) {
	if filter.Empty() {
		return 0, fmt.Errorf("refusing to delete without filter")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, p := range m.points {
		if matches(&p.Payload, filter) {
			delete(m.points, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryBackend) Count(ctx context.Context, filter Filter) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, p := range m.points {
		if matches(&p.Payload, filter) {
			n++
		}
	}
	return n, nil
}

func (m *memoryBackend) Ping(ctx context.Context) error {
	return nil
}

func matches(p *model.Payload, f Filter) bool {
	if f.UserID != "" && p.UserID != f.UserID {
		return false
	}
	if f.TranscriptionID != "" && p.TranscriptionID != f.TranscriptionID {
		return false
	}
	if f.FolderID != "" && p.FolderIDValue() != f.FolderID {
		return false
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
