package classifier

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrTrainingDataUnavailable means the training resource for a label is
// missing or malformed. Terminal for the job that hit it; the worker must
// not retry indefinitely.
var ErrTrainingDataUnavailable = errors.New("training data unavailable")

// TrainFunc loads the training dataset for a label and returns a fitted
// classifier.
type TrainFunc func(ctx context.Context, label string) (Classifier, error)

type entry struct {
	classifier Classifier
	trainedAt  time.Time
}

// Cache holds one trained classifier per normalized word label for the
// lifetime of the worker process. Entries are never invalidated; a process
// restart is the only refresh. Concurrent misses for the same label train
// once via singleflight.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group
	train   TrainFunc
	logger  zerolog.Logger
}

func NewCache(train TrainFunc, logger zerolog.Logger) *Cache {
	return &Cache{
		entries: make(map[string]entry),
		train:   train,
		logger:  logger,
	}
}

func (c *Cache) GetOrTrain(ctx context.Context, label string) (Classifier, error) {
	key := NormalizeLabel(label)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return e.classifier, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Re-check under the flight: a previous flight may have stored it.
		c.mu.RLock()
		e, ok := c.entries[key]
		c.mu.RUnlock()
		if ok {
			return e.classifier, nil
		}

		start := time.Now()
		clf, err := c.train(ctx, key)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[key] = entry{classifier: clf, trainedAt: time.Now()}
		c.mu.Unlock()

		c.logger.Info().
			Str("label", key).
			Dur("train_time", time.Since(start)).
			Msg("Classifier trained")

		return clf, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(Classifier), nil
}

// Len reports the number of trained entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// NormalizeLabel lowercases the label and capitalizes the first rune,
// matching the naming scheme of the training files.
func NormalizeLabel(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if label == "" {
		return label
	}

	runes := []rune(label)
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}

// NewFileTrainer returns a TrainFunc that loads svmlight training data
// from dir, one file per label named after the normalized label, and fits
// a nearest-centroid model.
func NewFileTrainer(dir string) TrainFunc {
	return func(ctx context.Context, label string) (Classifier, error) {
		path := filepath.Join(dir, NormalizeLabel(label))

		features, labels, err := ParseSVMLightFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: no training file for %q", ErrTrainingDataUnavailable, label)
			}
			return nil, fmt.Errorf("%w: %v", ErrTrainingDataUnavailable, err)
		}

		clf := NewNearestCentroid()
		if err := clf.Fit(features, labels); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTrainingDataUnavailable, err)
		}

		return clf, nil
	}
}
