package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// LocalStore keeps audio on the local filesystem. Used in development and
// single-node deployments; tests lean on it too.
type LocalStore struct {
	dir    string
	logger zerolog.Logger
}

func NewLocalStore(dir string, logger zerolog.Logger) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	return &LocalStore{dir: dir, logger: logger}, nil
}

func (s *LocalStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	path := filepath.Join(s.dir, filepath.Base(name))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write audio file: %w", err)
	}

	s.logger.Debug().Str("path", path).Int("size", len(data)).Msg("Audio file saved")
	return path, nil
}

func (s *LocalStore) Open(ctx context.Context, path string) (Object, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return f, nil
}

func (s *LocalStore) Delete(ctx context.Context, path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return ErrNotFound
	}

	return err
}
