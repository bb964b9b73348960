package features

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
)

var ErrInvalidAudio = errors.New("invalid audio payload")

// Extractor turns a recording plus its target word into a fixed-length
// numeric feature vector. The algorithm is opaque to the rest of the
// pipeline; bins is carried in the job payload so the API and worker agree
// on the vector length.
type Extractor interface {
	Extract(ctx context.Context, r io.ReadSeeker, word string, bins int) ([]float64, error)
}

// WAVExtractor computes a normalized RMS energy envelope over the PCM
// samples of a WAV recording.
type WAVExtractor struct{}

func NewWAVExtractor() *WAVExtractor {
	return &WAVExtractor{}
}

func (e *WAVExtractor) Extract(ctx context.Context, r io.ReadSeeker, word string, bins int) ([]float64, error) {
	if bins <= 0 {
		return nil, fmt.Errorf("feature bins must be positive, got %d", bins)
	}

	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrInvalidAudio
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAudio, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInvalidAudio)
	}

	scale := math.Pow(2, float64(dec.BitDepth-1))
	if scale == 0 {
		scale = 1 << 15
	}

	samples := buf.Data
	vector := make([]float64, bins)
	segment := len(samples) / bins
	if segment == 0 {
		segment = 1
	}

	for i := 0; i < bins; i++ {
		start := i * segment
		if start >= len(samples) {
			break
		}
		end := start + segment
		if i == bins-1 || end > len(samples) {
			end = len(samples)
		}

		var sum float64
		for _, s := range samples[start:end] {
			v := float64(s) / scale
			sum += v * v
		}
		vector[i] = math.Sqrt(sum / float64(end-start))
	}

	// Scale to the loudest bin so absolute recording volume drops out.
	max := 0.0
	for _, v := range vector {
		if v > max {
			max = v
		}
	}
	if max > 0 {
		for i := range vector {
			vector[i] /= max
		}
	}

	return vector, nil
}
