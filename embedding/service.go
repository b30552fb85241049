// Package embedding turns message text into fixed-dimension unit
// vectors for semantic deduplication. Encoders are pluggable: a remote
// embeddings API for production, a local word-vector file, and a
// zero-vector fallback strictly for development and tests.
package embedding

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/lifeexplorer230/tg-news-bot-sub000/config"
	"github.com/lifeexplorer230/tg-news-bot-sub000/textutil"
)

// Encoder produces fixed-dimension vectors for batches of already
// normalized text.
type Encoder interface {
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
	Name() string
}

// Service wraps an Encoder with the text-normalization pipeline and
// batch splitting.
type Service struct {
	enc  Encoder
	norm *textutil.Normalizer
}

// DefaultBatchSize bounds one encoder call.
const DefaultBatchSize = 32

// NewService builds the embedding service for the configured encoder.
// Selection order: a present local path wins; otherwise the remote API
// is used only when allow_remote_download permits; otherwise the
// zero-vector fallback applies iff enable_fallback is set.
func NewService(cfg config.EmbeddingsConfig, apiKey string, norm *textutil.Normalizer) (*Service, error) {
	var enc Encoder
	switch {
	case cfg.LocalPath != "" && fileExists(cfg.LocalPath):
		var err error
		if enc, err = LoadWordVectors(cfg.LocalPath); err != nil {
			return nil, fmt.Errorf("loading local model %s: %w", cfg.LocalPath, err)
		}
	case cfg.AllowRemoteDownload:
		enc = NewAPIEncoder(apiKey, cfg.Model, "")
	case cfg.EnableFallback:
		log.Warn("embedding fallback encoder active; dedup is effectively disabled")
		enc = FallbackEncoder{}
	default:
		return nil, fmt.Errorf("no embedding model: local_path absent, remote download not allowed, fallback disabled")
	}

	log.WithFields(log.Fields{"encoder": enc.Name(), "dim": enc.Dim()}).Info("embedding service ready")
	return &Service{enc: enc, norm: norm}, nil
}

// NewServiceWith wires an explicit encoder, for tests and tools.
func NewServiceWith(enc Encoder, norm *textutil.Normalizer) *Service {
	return &Service{enc: enc, norm: norm}
}

// Dim is the uniform dimensionality of produced vectors.
func (s *Service) Dim() int { return s.enc.Dim() }

// Encode produces the vector for one text.
func (s *Service) Encode(ctx context.Context, text string) ([]float32, error) {
	var vecs, err = s.EncodeBatch(ctx, []string{text}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EncodeBatch normalizes every text and encodes them in slices of at
// most batchSize per encoder call. The result is index-aligned with the
// input.
func (s *Service) EncodeBatch(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize <= 0 || batchSize > DefaultBatchSize {
		batchSize = DefaultBatchSize
	}

	var normalized = make([]string, len(texts))
	for i, t := range texts {
		if s.norm != nil {
			normalized[i] = s.norm.Normalize(t)
		} else {
			normalized[i] = t
		}
	}

	var out = make([][]float32, 0, len(texts))
	for start := 0; start < len(normalized); start += batchSize {
		var end = start + batchSize
		if end > len(normalized) {
			end = len(normalized)
		}
		vecs, err := s.enc.EncodeBatch(ctx, normalized[start:end])
		if err != nil {
			return nil, fmt.Errorf("encoding batch [%d:%d]: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("encoder returned %d vectors for %d texts", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func fileExists(path string) bool {
	var _, err = os.Stat(path)
	return err == nil
}
