package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// ArchivePayload keeps the upstream body behind a run, gzipped and keyed by
// its SHA-256. It returns the archive ID and false when an identical body is
// already archived.
func (s *Store) ArchivePayload(run *IngestRun, body []byte) (int64, bool, error) {
	if run == nil || len(body) == 0 {
		return 0, false, nil
	}

	packed, err := gzipBytes(body)
	if err != nil {
		return 0, false, err
	}
	sum := sha256.Sum256(body)

	res, err := s.db.Exec(`
		INSERT INTO payload_archive (ingest_run_id, archived_at, body_gzip, body_sha256)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(body_sha256) DO NOTHING
	`, run.ID, s.now(), packed, hex.EncodeToString(sum[:]))
	if err != nil {
		return 0, false, fmt.Errorf("archive %s payload: %w", run.Source, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, false, nil
	}
	id, err := res.LastInsertId()
	return id, err == nil, err
}

// RunPayload returns the decompressed body archived for a run, or nil when
// the run archived nothing (including bodies identical to an earlier run's).
func (s *Store) RunPayload(runID int64) ([]byte, error) {
	var packed []byte
	err := s.db.QueryRow(`SELECT body_gzip FROM payload_archive WHERE ingest_run_id = ?`, runID).Scan(&packed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payload for run %d: %w", runID, err)
	}
	zr, err := gzip.NewReader(bytes.NewReader(packed))
	if err != nil {
		return nil, fmt.Errorf("payload for run %d: %w", runID, err)
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// PruneArchive drops bodies archived longer than retention ago.
func (s *Store) PruneArchive(retention time.Duration) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM payload_archive WHERE archived_at < ?`, s.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("prune archive: %w", err)
	}
	return res.RowsAffected()
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return buf.Bytes(), nil
}
