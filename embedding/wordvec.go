package embedding

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

// WordVectorEncoder is the local-path model: a word2vec-style text file
// of per-token vectors, averaged over the tokens of the input. It is
// fully deterministic and needs no network, which makes it the encoder
// of choice for air-gapped profiles.
type WordVectorEncoder struct {
	vectors map[string][]float32
	dim     int
}

// LoadWordVectors reads a word2vec text dump: an optional "count dim"
// header line, then one "token v1 v2 ... vD" line per word.
func LoadWordVectors(path string) (*WordVectorEncoder, error) {
	var f, err = os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var enc = &WordVectorEncoder{vectors: make(map[string][]float32)}
	var scanner = bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<20)

	var lineNo int
	for scanner.Scan() {
		lineNo++
		var fields = strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if lineNo == 1 && len(fields) == 2 {
			// header line
			continue
		}
		var token = strings.ToLower(fields[0])
		var vec = make([]float32, len(fields)-1)
		for i, raw := range fields[1:] {
			v, err := strconv.ParseFloat(raw, 32)
			if err != nil {
				return nil, fmt.Errorf("line %d: bad component %q: %w", lineNo, raw, err)
			}
			vec[i] = float32(v)
		}
		if enc.dim == 0 {
			enc.dim = len(vec)
		} else if len(vec) != enc.dim {
			return nil, fmt.Errorf("line %d: dimension %d, expected %d", lineNo, len(vec), enc.dim)
		}
		enc.vectors[token] = vec
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if enc.dim == 0 {
		return nil, fmt.Errorf("no vectors in %s", path)
	}

	log.WithFields(log.Fields{"tokens": len(enc.vectors), "dim": enc.dim}).Debug("word vectors loaded")
	return enc, nil
}

func (e *WordVectorEncoder) Name() string { return "wordvec" }

func (e *WordVectorEncoder) Dim() int { return e.dim }

// EncodeBatch averages the vectors of known tokens and unit-normalizes
// the result. A text with no known token yields the zero vector, which
// downstream similarity treats as matching nothing.
func (e *WordVectorEncoder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	var out = make([][]float32, len(texts))
	for i, text := range texts {
		var acc = make([]float32, e.dim)
		var hits int
		for _, token := range strings.Fields(strings.ToLower(text)) {
			token = strings.Trim(token, ".,!?:;()[]\"'«»—")
			if vec, ok := e.vectors[token]; ok {
				for j, v := range vec {
					acc[j] += v
				}
				hits++
			}
		}
		if hits > 0 {
			var inv = 1 / float32(hits)
			for j := range acc {
				acc[j] *= inv
			}
		}
		out[i] = Normalize(acc)
	}
	return out, nil
}

// FallbackEncoder emits zero vectors. Deduplication degrades to a no-op
// because zero-norm similarity is defined as 0; gated behind
// enable_fallback and intended only for development and tests.
type FallbackEncoder struct{}

const fallbackDim = 384

func (FallbackEncoder) Name() string { return "fallback" }

func (FallbackEncoder) Dim() int { return fallbackDim }

func (FallbackEncoder) EncodeBatch(_ context.Context, texts []string) ([][]float32, error) {
	var out = make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, fallbackDim)
	}
	return out, nil
}
