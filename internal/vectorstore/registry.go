package vectorstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/convorag/internal/config"
)

type BackendArgs struct {
	Collection string
	Dimension  int
	DB         *sql.DB
	Data       interface{}
}

type Factory func(args *BackendArgs) (Backend, error)

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

// New builds a Store from config. An empty type or "none" yields an
// unconfigured store rather than an error.
func New(cfg config.VectorStoreConfig, db *sql.DB) (*Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" || key == "none" {
		return NewStore(nil, cfg.Dimension), nil
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	backend, err := factory(&BackendArgs{
		Collection: collection,
		Dimension:  cfg.Dimension,
		DB:         db,
		Data:       cfg.Data,
	})
	if err != nil {
		return nil, err
	}
	return NewStore(backend, cfg.Dimension), nil
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode vector store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode vector store config: %w", err)
	}
	return nil
}

func init() {
	Register("memory", func(args *BackendArgs) (Backend, error) {
		return NewMemoryBackend(), nil
	})
}
