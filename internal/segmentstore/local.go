package segmentstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xxxsen/convorag/internal/model"
	appErr "github.com/xxxsen/convorag/internal/pkg/errors"
)

type localConfig struct {
	Dir string `json:"dir"`
}

type localStore struct {
	dir string
}

func init() {
	Register("local", createLocalStore)
}

func createLocalStore(args interface{}) (Store, error) {
	c := &localConfig{}
	if err := decodeConfig(args, c); err != nil {
		return nil, err
	}
	if c.Dir == "" {
		return nil, fmt.Errorf("local segment store dir is required")
	}
	return NewLocal(c.Dir), nil
}

func NewLocal(dir string) Store {
	return &localStore{dir: dir}
}

func (s *localStore) Type() string {
	return "local"
}

func (s *localStore) Load(ctx context.Context, key string) ([]model.SpeakerSegment, error) {
	_ = ctx
	if err := validKey(key); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(filepath.Join(s.dir, filepath.FromSlash(key)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, appErr.ErrNotFound
		}
		return nil, err
	}
	return decodeSegments(key, raw)
}

func (s *localStore) Save(ctx context.Context, key string, segments []model.SpeakerSegment) error {
	_ = ctx
	if err := validKey(key); err != nil {
		return err
	}
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.Marshal(segments)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
