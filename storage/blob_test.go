package storage

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlobRoundTrip(t *testing.T) {
	var vec = []float32{0, 1, -1, 0.5, 3.1415927}
	var got, err = DecodeEmbedding(EncodeEmbedding(vec))
	require.NoError(t, err)
	require.Equal(t, vec, got)
}

func TestDecodeRejectsPickle(t *testing.T) {
	// CPython pickle protocol 4 stream prefix.
	var _, err = DecodeEmbedding([]byte{0x80, 0x04, 0x95, 0x10})
	require.ErrorIs(t, err, ErrLegacyBlob)
}

func TestDecodeRejectsNpy(t *testing.T) {
	var _, err = DecodeEmbedding(npyBlobF4([]float32{1, 2, 3}))
	require.ErrorIs(t, err, ErrLegacyBlob)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	var _, err = DecodeEmbedding([]byte("definitely not a blob"))
	require.ErrorIs(t, err, ErrCorruptBlob)

	// Right magic, wrong length.
	var blob = EncodeEmbedding([]float32{1, 2, 3})
	_, err = DecodeEmbedding(blob[:len(blob)-2])
	require.ErrorIs(t, err, ErrCorruptBlob)
}

func TestDecodeRejectsOverflowingDim(t *testing.T) {
	// dim 0x40000000 makes 8+4*dim wrap to 8 in uint32 arithmetic; the
	// 8-byte header alone must not pass the length check.
	var blob = append([]byte{}, blobMagic...)
	blob = binary.LittleEndian.AppendUint32(blob, 0x40000000)
	var _, err = DecodeEmbedding(blob)
	require.ErrorIs(t, err, ErrCorruptBlob)

	// An in-bounds but absurd dimension is refused before allocation.
	blob = append([]byte{}, blobMagic...)
	blob = binary.LittleEndian.AppendUint32(blob, maxEmbeddingDim+1)
	blob = append(blob, make([]byte, 4*(maxEmbeddingDim+1))...)
	_, err = DecodeEmbedding(blob)
	require.ErrorIs(t, err, ErrCorruptBlob)
}

// npyBlobF4 builds a numpy v1 '<f4' 1-D array dump, the legacy on-disk
// format this deployment is migrating away from.
func npyBlobF4(vec []float32) []byte {
	var header = "{'descr': '<f4', 'fortran_order': False, 'shape': (" +
		strconv.Itoa(len(vec)) + ",), }"
	for (10+len(header)+1)%64 != 0 {
		header += " "
	}
	header += "\n"

	var out = []byte("\x93NUMPY\x01\x00")
	out = binary.LittleEndian.AppendUint16(out, uint16(len(header)))
	out = append(out, header...)
	for _, v := range vec {
		out = binary.LittleEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func npyBlobF8(vec []float64) []byte {
	var header = "{'descr': '<f8', 'fortran_order': False, 'shape': (" +
		strconv.Itoa(len(vec)) + ",), }"
	for (10+len(header)+1)%64 != 0 {
		header += " "
	}
	header += "\n"

	var out = []byte("\x93NUMPY\x01\x00")
	out = binary.LittleEndian.AppendUint16(out, uint16(len(header)))
	out = append(out, header...)
	for _, v := range vec {
		out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
	}
	return out
}

func TestMigrateEmbeddings(t *testing.T) {
	var s = openTestStore(t)
	var ctx = context.Background()

	// A safe-format row, an f4 legacy row, an f8 legacy row, and a
	// pickle row that must be refused.
	_, err := s.SavePublished(ctx, "уже безопасный", []float32{9, 9}, 0, 0)
	require.NoError(t, err)

	var insert = func(blob []byte) {
		_, err := s.db.Exec(
			`INSERT INTO published (text, embedding, published_at) VALUES (?, ?, ?)`,
			"legacy", blob, encodeTime(time.Now()))
		require.NoError(t, err)
	}
	insert(npyBlobF4([]float32{1, 2, 3}))
	insert(npyBlobF8([]float64{0.5, -0.5}))
	insert([]byte{0x80, 0x04, 0x95})

	res, err := s.MigrateEmbeddings(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, res.Scanned)
	require.Equal(t, 2, res.Migrated)
	require.Equal(t, 1, res.AlreadyOK)
	require.Equal(t, 1, res.Failed)

	embs, err := s.GetPublishedEmbeddings(ctx, 10000)
	require.NoError(t, err)
	require.Len(t, embs, 3, "pickle row stays undecodable and is skipped on read")

	// Idempotent: a second pass migrates nothing new.
	res, err = s.MigrateEmbeddings(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Migrated)
	require.Equal(t, 3, res.AlreadyOK)
}
