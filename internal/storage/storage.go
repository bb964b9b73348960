package storage

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
)

var ErrNotFound = errors.New("audio object not found")

// Object is a handle to stored audio. Seeking is required by the WAV
// decoder on the worker side.
type Object interface {
	io.Reader
	io.Seeker
	io.Closer
}

// AudioStore persists uploaded recordings. Save returns the path later
// handed to the worker; the file is written once and never mutated.
type AudioStore interface {
	Save(ctx context.Context, name string, data []byte) (string, error)
	Open(ctx context.Context, path string) (Object, error)
	Delete(ctx context.Context, path string) error
}

// AllowedExtension checks the upload against the configured whitelist.
func AllowedExtension(name string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(name))
	for _, a := range allowed {
		if ext == strings.ToLower(a) {
			return true
		}
	}

	return false
}
