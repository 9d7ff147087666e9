// Package store implements TaskStore (spec.md §4.8): save/load/loadAll/
// remove for TaskRecord, safe against process crashes. Grounded on the
// teacher's internal/engine/state/state.go (SaveState/LoadState/
// DeleteState, upsert-in-transaction pattern) and internal/engine/state's
// use of modernc.org/sqlite, with db.go supplying the connection/schema/
// tx helpers the teacher's file referenced but never defined.
package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/ketch-dl/ketch/internal/ketcherr"
	"github.com/ketch-dl/ketch/internal/ketchtypes"
)

// TaskStore is the persistence contract spec.md §4.8 defines.
type TaskStore interface {
	Save(record ketchtypes.TaskRecord) error
	Load(id string) (ketchtypes.TaskRecord, error)
	LoadAll() ([]ketchtypes.TaskRecord, error)
	Remove(id string) error
	Close() error
}

// SQLiteStore is the default TaskStore backing driver.
type SQLiteStore struct {
	db *db
}

// Open opens (or creates) a SQLite-backed TaskStore at path.
func Open(path string) (*SQLiteStore, error) {
	d, err := openDB(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{db: d}, nil
}

func (s *SQLiteStore) Close() error { return s.db.close() }

// Save upserts record inside one transaction (spec.md §4.8: "a single-
// row upsert per task inside a transaction").
func (s *SQLiteStore) Save(record ketchtypes.TaskRecord) error {
	requestJSON, err := json.Marshal(record.Request)
	if err != nil {
		return ketcherr.New(ketcherr.Validation, "marshaling request: "+err.Error())
	}
	segmentsJSON, err := json.Marshal(record.Segments)
	if err != nil {
		return ketcherr.New(ketcherr.Validation, "marshaling segments: "+err.Error())
	}
	var errorJSON []byte
	if record.Error != nil {
		errorJSON, err = json.Marshal(record.Error)
		if err != nil {
			return ketcherr.New(ketcherr.Validation, "marshaling error: "+err.Error())
		}
	}

	var acceptRanges any
	if record.AcceptRanges != nil {
		acceptRanges = *record.AcceptRanges
	}

	return s.db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO tasks (
				id, request_json, output_path, state, total_bytes, downloaded_bytes,
				accept_ranges, etag, last_modified, segments_json, source_type,
				source_resume_state, error_json, created_at_ms, updated_at_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				request_json=excluded.request_json,
				output_path=excluded.output_path,
				state=excluded.state,
				total_bytes=excluded.total_bytes,
				downloaded_bytes=excluded.downloaded_bytes,
				accept_ranges=excluded.accept_ranges,
				etag=excluded.etag,
				last_modified=excluded.last_modified,
				segments_json=excluded.segments_json,
				source_type=excluded.source_type,
				source_resume_state=excluded.source_resume_state,
				error_json=excluded.error_json,
				updated_at_ms=excluded.updated_at_ms
		`,
			record.TaskID, string(requestJSON), record.OutputPath, string(record.State),
			record.TotalBytes, record.DownloadedBytes, acceptRanges, record.ETag,
			record.LastModified, string(segmentsJSON), record.SourceType,
			record.SourceResumeState, nullableJSON(errorJSON),
			record.CreatedAt.UnixMilli(), record.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return ketcherr.DiskErr(err)
		}
		return nil
	})
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// Load returns the record for id, or a NotFound-flavored Disk error if
// no such row exists.
func (s *SQLiteStore) Load(id string) (ketchtypes.TaskRecord, error) {
	row := s.db.conn.QueryRow(selectColumns+" WHERE id = ?", id)
	return scanRecord(row)
}

// LoadAll returns every persisted record, in no particular order.
func (s *SQLiteStore) LoadAll() ([]ketchtypes.TaskRecord, error) {
	rows, err := s.db.conn.Query(selectColumns)
	if err != nil {
		return nil, ketcherr.DiskErr(err)
	}
	defer rows.Close()

	var records []ketchtypes.TaskRecord
	for rows.Next() {
		record, err := scanRecordRows(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, ketcherr.DiskErr(err)
	}
	return records, nil
}

// Remove deletes the record for id. Removing a nonexistent id is not an
// error (idempotent, matching the coordinator's terminal->remove
// transition).
func (s *SQLiteStore) Remove(id string) error {
	_, err := s.db.conn.Exec("DELETE FROM tasks WHERE id = ?", id)
	if err != nil {
		return ketcherr.DiskErr(err)
	}
	return nil
}

const selectColumns = `
	SELECT id, request_json, output_path, state, total_bytes, downloaded_bytes,
	       accept_ranges, etag, last_modified, segments_json, source_type,
	       source_resume_state, error_json, created_at_ms, updated_at_ms
	FROM tasks
`

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row *sql.Row) (ketchtypes.TaskRecord, error) {
	return scan(row)
}

func scanRecordRows(rows *sql.Rows) (ketchtypes.TaskRecord, error) {
	return scan(rows)
}

func scan(s scanner) (ketchtypes.TaskRecord, error) {
	var (
		record                       ketchtypes.TaskRecord
		requestJSON, segmentsJSON    string
		acceptRanges                 sql.NullBool
		errorJSON                    sql.NullString
		createdMs, updatedMs         int64
	)

	err := s.Scan(
		&record.TaskID, &requestJSON, &record.OutputPath, &record.State,
		&record.TotalBytes, &record.DownloadedBytes, &acceptRanges, &record.ETag,
		&record.LastModified, &segmentsJSON, &record.SourceType,
		&record.SourceResumeState, &errorJSON, &createdMs, &updatedMs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return ketchtypes.TaskRecord{}, ketcherr.New(ketcherr.Disk, "task record not found")
		}
		return ketchtypes.TaskRecord{}, ketcherr.DiskErr(err)
	}

	if err := json.Unmarshal([]byte(requestJSON), &record.Request); err != nil {
		return ketchtypes.TaskRecord{}, ketcherr.New(ketcherr.Validation, "corrupt request_json: "+err.Error())
	}
	if err := json.Unmarshal([]byte(segmentsJSON), &record.Segments); err != nil {
		return ketchtypes.TaskRecord{}, ketcherr.New(ketcherr.Validation, "corrupt segments_json: "+err.Error())
	}
	if acceptRanges.Valid {
		v := acceptRanges.Bool
		record.AcceptRanges = &v
	}
	if errorJSON.Valid && errorJSON.String != "" {
		var taskErr ketchtypes.TaskError
		if err := json.Unmarshal([]byte(errorJSON.String), &taskErr); err == nil {
			record.Error = &taskErr
		}
	}
	record.CreatedAt = time.UnixMilli(createdMs)
	record.UpdatedAt = time.UnixMilli(updatedMs)
	return record, nil
}
