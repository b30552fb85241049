package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"regexp"
	"strconv"

	log "github.com/sirupsen/logrus"
)

// MigrateResult summarizes one migration pass.
type MigrateResult struct {
	Scanned   int
	Migrated  int
	AlreadyOK int
	Failed    int
}

// MigrateEmbeddings rewrites legacy numpy embedding blobs into the safe
// format in place. Rows already in the safe format are skipped, so the
// migration is idempotent. Pickled-object payloads are never decoded;
// such rows are counted as failed and left untouched for manual review.
func (s *Store) MigrateEmbeddings(ctx context.Context) (*MigrateResult, error) {
	var rows, err = s.db.QueryContext(ctx, `SELECT id, embedding FROM published ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("migrate_embeddings: %w", err)
	}

	type pending struct {
		id   int64
		blob []byte
	}
	var out MigrateResult
	var updates []pending

	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			rows.Close()
			return nil, fmt.Errorf("migrate_embeddings scan: %w", err)
		}
		out.Scanned++

		if bytes.HasPrefix(blob, blobMagic) {
			out.AlreadyOK++
			continue
		}
		vec, err := decodeNpy(blob)
		if err != nil {
			out.Failed++
			log.WithFields(log.Fields{"published_id": id, "error": err}).Error("cannot migrate embedding blob")
			continue
		}
		updates = append(updates, pending{id: id, blob: EncodeEmbedding(vec)})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("migrate_embeddings: %w", err)
	}

	for _, u := range updates {
		var err = s.withRetry(ctx, "migrate_embeddings", func(ctx context.Context) error {
			var _, err = s.db.ExecContext(ctx,
				`UPDATE published SET embedding = ? WHERE id = ?`, u.blob, u.id)
			return err
		})
		if err != nil {
			return nil, err
		}
		out.Migrated++
	}

	log.WithFields(log.Fields{
		"scanned":  out.Scanned,
		"migrated": out.Migrated,
		"ok":       out.AlreadyOK,
		"failed":   out.Failed,
	}).Info("embedding migration finished")
	return &out, nil
}

var npyHeaderPattern = regexp.MustCompile(
	`'descr':\s*'([<|=][a-z][0-9])'.*'fortran_order':\s*(True|False).*'shape':\s*\((\d+),?\)`)

// decodeNpy parses a 1-D float32/float64 numpy v1/v2 array dump. It is a
// restricted reader: anything with object dtype, higher rank, or a
// pickle stream is rejected outright.
func decodeNpy(blob []byte) ([]float32, error) {
	if len(blob) > 0 && blob[0] == pickleProto {
		return nil, fmt.Errorf("pickle stream: refusing arbitrary-object deserialization")
	}
	if !bytes.HasPrefix(blob, npyMagic) {
		return nil, fmt.Errorf("unrecognized legacy format")
	}
	if len(blob) < 10 {
		return nil, fmt.Errorf("truncated npy header")
	}

	var major = blob[6]
	var headerLen int
	var dataStart int
	switch major {
	case 1:
		headerLen = int(binary.LittleEndian.Uint16(blob[8:10]))
		dataStart = 10 + headerLen
	case 2, 3:
		if len(blob) < 12 {
			return nil, fmt.Errorf("truncated npy header")
		}
		headerLen = int(binary.LittleEndian.Uint32(blob[8:12]))
		dataStart = 12 + headerLen
	default:
		return nil, fmt.Errorf("unsupported npy version %d", major)
	}
	if dataStart > len(blob) {
		return nil, fmt.Errorf("npy header overruns payload")
	}

	var header = string(blob[dataStart-headerLen : dataStart])
	var m = npyHeaderPattern.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("unsupported npy header %q", header)
	}
	if m[2] != "False" {
		return nil, fmt.Errorf("fortran-ordered arrays unsupported")
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, fmt.Errorf("bad npy shape: %w", err)
	}

	var data = blob[dataStart:]
	switch m[1][1:] {
	case "f4":
		if len(data) != 4*n {
			return nil, fmt.Errorf("npy f4 payload size mismatch")
		}
		var vec = make([]float32, n)
		for i := range vec {
			vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
		}
		return vec, nil
	case "f8":
		if len(data) != 8*n {
			return nil, fmt.Errorf("npy f8 payload size mismatch")
		}
		var vec = make([]float32, n)
		for i := range vec {
			vec[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:])))
		}
		return vec, nil
	}
	return nil, fmt.Errorf("unsupported npy dtype %q", m[1])
}
