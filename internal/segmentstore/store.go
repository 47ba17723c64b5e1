package segmentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/convorag/internal/config"
	"github.com/xxxsen/convorag/internal/model"
)

// Store holds the diarised segments of a transcript as one JSON array per key.
// A missing key reports appErr.ErrNotFound.
type Store interface {
	Type() string
	Load(ctx context.Context, key string) ([]model.SpeakerSegment, error)
	Save(ctx context.Context, key string, segments []model.SpeakerSegment) error
}

type Factory func(args interface{}) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.SegmentStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		return nil, fmt.Errorf("segment_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported segment store type: %s", cfg.Type)
	}
	return factory(cfg.Data)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("segment store config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode segment store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode segment store config: %w", err)
	}
	return nil
}

func decodeSegments(key string, raw []byte) ([]model.SpeakerSegment, error) {
	var segments []model.SpeakerSegment
	if err := json.Unmarshal(raw, &segments); err != nil {
		return nil, fmt.Errorf("decode segments %s: %w", key, err)
	}
	return segments, nil
}

func validKey(key string) error {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("invalid segment key %q", key)
	}
	return nil
}
