// db.go owns the SQLite connection, schema migration and transaction
// helper for the store package. The teacher's equivalent state package
// (internal/engine/state/state.go) calls getDBHelper()/withTx() but never
// defines them in the retrieved copy — this file is the from-scratch
// recreation of that plumbing, grounded on the same upsert-in-
// transaction SQL shape the teacher's SaveState uses, and on
// modernc.org/sqlite (the teacher's driver, pure Go, no cgo).
package store

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"github.com/ketch-dl/ketch/internal/ketcherr"
)

const schema = `
CREATE TABLE IF NOT EXISTS tasks (
	id                  TEXT PRIMARY KEY,
	request_json        TEXT NOT NULL,
	output_path         TEXT NOT NULL,
	state               TEXT NOT NULL,
	total_bytes         INTEGER NOT NULL,
	downloaded_bytes    INTEGER NOT NULL,
	accept_ranges       INTEGER,
	etag                TEXT NOT NULL DEFAULT '',
	last_modified       TEXT NOT NULL DEFAULT '',
	segments_json       TEXT NOT NULL DEFAULT '[]',
	source_type         TEXT NOT NULL DEFAULT '',
	source_resume_state BLOB,
	error_json          TEXT,
	created_at_ms       INTEGER NOT NULL,
	updated_at_ms       INTEGER NOT NULL
);
`

// db wraps the shared *sql.DB connection plus a write mutex. SQLite
// allows only one writer at a time; serializing Save calls here is what
// spec.md §4.8 means by "serializes concurrent saves through a mutex to
// preserve last-writer-wins by wall clock" — without it, two concurrent
// transactions could interleave and the slower one could overwrite a
// newer UpdatedAt with stale data.
type db struct {
	conn *sql.DB
	lock *flock.Flock
	mu   sync.Mutex
}

// openDB opens (creating if needed) the SQLite file at path, applies the
// schema, and acquires a cross-process advisory lock on a sibling
// ".lock" file so two processes never write the same database
// concurrently — the teacher's single-instance lock (cmd/lock.go),
// repurposed here to guard the database file instead of the whole
// process.
func openDB(path string) (*db, error) {
	fileLock := flock.New(path + ".lock")
	locked, err := fileLock.TryLock()
	if err != nil {
		return nil, ketcherr.DiskErr(fmt.Errorf("acquiring store lock: %w", err))
	}
	if !locked {
		return nil, ketcherr.New(ketcherr.Disk, "another process holds the task store lock")
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		fileLock.Unlock()
		return nil, ketcherr.DiskErr(err)
	}
	conn.SetMaxOpenConns(1) // modernc.org/sqlite serializes anyway; avoid SQLITE_BUSY churn

	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		fileLock.Unlock()
		return nil, ketcherr.DiskErr(fmt.Errorf("applying schema: %w", err))
	}

	return &db{conn: conn, lock: fileLock}, nil
}

func (d *db) close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	connErr := d.conn.Close()
	lockErr := d.lock.Unlock()
	if connErr != nil {
		return ketcherr.DiskErr(connErr)
	}
	if lockErr != nil {
		return ketcherr.DiskErr(lockErr)
	}
	return nil
}

// withTx runs fn inside a transaction, serialized against other writers
// by mu, committing on success and rolling back on any error so a save
// either fully persists or leaves the previous row intact (spec.md
// §4.8).
func (d *db) withTx(fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.conn.Begin()
	if err != nil {
		return ketcherr.DiskErr(err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		tx.Rollback()
		return ketcherr.DiskErr(err)
	}
	return nil
}
