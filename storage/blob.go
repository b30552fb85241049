package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Embedding blobs use a self-describing little-endian dump:
//
//	bytes 0..3   magic "EMB1"
//	bytes 4..7   uint32 dimension
//	bytes 8..    dimension * 4 bytes of float32 data
//
// The decoder accepts only this format. Legacy rows written by earlier
// deployments may contain numpy or pickled payloads; those are refused
// with ErrLegacyBlob and must be rewritten via MigrateEmbeddings.
var blobMagic = []byte("EMB1")

var (
	// ErrLegacyBlob marks a recognizable legacy payload (numpy dump or
	// pickle stream) that the safe decoder refuses to touch.
	ErrLegacyBlob = errors.New("legacy embedding blob, run migrate-embeddings")
	// ErrCorruptBlob marks a payload in no recognized format.
	ErrCorruptBlob = errors.New("corrupt embedding blob")
)

var (
	npyMagic    = []byte("\x93NUMPY")
	pickleProto = byte(0x80)
)

// maxEmbeddingDim bounds the declared dimension before any allocation.
// The largest real model in use is 3072-dimensional.
const maxEmbeddingDim = 1 << 16

// EncodeEmbedding serializes a vector into the safe blob format.
func EncodeEmbedding(vec []float32) []byte {
	var buf = make([]byte, 8+4*len(vec))
	copy(buf, blobMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(vec)))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[8+4*i:], math.Float32bits(v))
	}
	return buf
}

// DecodeEmbedding deserializes a safe-format blob. Arbitrary-object
// payloads are never decoded: numpy and pickle streams return
// ErrLegacyBlob so the caller can direct the operator to the migration.
func DecodeEmbedding(blob []byte) ([]float32, error) {
	if bytes.HasPrefix(blob, npyMagic) || (len(blob) > 0 && blob[0] == pickleProto) {
		return nil, ErrLegacyBlob
	}
	if len(blob) < 8 || !bytes.HasPrefix(blob, blobMagic) {
		return nil, ErrCorruptBlob
	}
	var dim = binary.LittleEndian.Uint32(blob[4:])
	// Length arithmetic stays in int: in uint32 a crafted dim like
	// 0x40000000 wraps 8+4*dim back to 8 and slips past the check.
	if dim > maxEmbeddingDim || len(blob) != 8+4*int(dim) {
		return nil, fmt.Errorf("%w: declared dim %d, payload %d bytes", ErrCorruptBlob, dim, len(blob)-8)
	}
	var vec = make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[8+4*i:]))
	}
	return vec, nil
}
