// Package filewriter implements FileWriter (spec.md §4.1): a random-access,
// preallocated, durable sink for one task's output bytes, grounded on the
// teacher's ConcurrentDownloader.Download file handling
// (internal/engine/concurrent/downloader.go: OpenFile with the
// ".surge"-style incomplete suffix, Truncate to preallocate, WriteAt per
// segment, Sync + Rename on completion).
package filewriter

import (
	"os"
	"sync"

	"github.com/ketch-dl/ketch/internal/ketcherr"
)

// IncompleteSuffix marks a file still being written, same convention as
// the teacher's ".surge" suffix.
const IncompleteSuffix = ".ketch-part"

// Writer is one task's exclusive output file handle. All writes are
// serialized by mu so concurrent segment fetchers can call WriteAt
// safely (spec.md §4.1).
type Writer struct {
	mu          sync.Mutex
	f           *os.File
	workingPath string
	finalPath   string
}

// Open creates (or reopens, for resume) the working file at
// finalPath+IncompleteSuffix. When totalBytes >= 0 it preallocates via
// Truncate, which is a no-op if the file is already that size — safe to
// call again on resume.
func Open(finalPath string, totalBytes int64) (*Writer, error) {
	workingPath := finalPath + IncompleteSuffix
	f, err := os.OpenFile(workingPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, ketcherr.DiskErr(err)
	}
	w := &Writer{f: f, workingPath: workingPath, finalPath: finalPath}
	if totalBytes >= 0 {
		if err := f.Truncate(totalBytes); err != nil {
			f.Close()
			return nil, ketcherr.DiskErr(err)
		}
	}
	return w, nil
}

// WriteAt writes b at offset. Safe for concurrent callers.
func (w *Writer) WriteAt(offset int64, b []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.f.WriteAt(b, offset); err != nil {
		return ketcherr.DiskErr(err)
	}
	return nil
}

// Flush durably syncs written bytes to storage.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Sync(); err != nil {
		return ketcherr.DiskErr(err)
	}
	return nil
}

// Size returns the current on-disk size of the working file.
func (w *Writer) Size() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	info, err := w.f.Stat()
	if err != nil {
		return 0, ketcherr.DiskErr(err)
	}
	return info.Size(), nil
}

// Delete removes the (incomplete) working file. Used on cancel/remove.
func (w *Writer) Delete() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.f.Close()
	if err := os.Remove(w.workingPath); err != nil && !os.IsNotExist(err) {
		return ketcherr.DiskErr(err)
	}
	return nil
}

// Close closes the underlying handle without deleting or renaming it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Finalize flushes, closes, and atomically renames the working file to
// its final destination path — the crash-safety boundary: a reader never
// observes a file at finalPath that isn't complete.
func (w *Writer) Finalize() error {
	w.mu.Lock()
	if err := w.f.Sync(); err != nil {
		w.mu.Unlock()
		return ketcherr.DiskErr(err)
	}
	if err := w.f.Close(); err != nil {
		w.mu.Unlock()
		return ketcherr.DiskErr(err)
	}
	workingPath, finalPath := w.workingPath, w.finalPath
	w.mu.Unlock()

	if err := os.Rename(workingPath, finalPath); err != nil {
		if os.IsNotExist(err) {
			if info, statErr := os.Stat(finalPath); statErr == nil && info.Size() >= 0 {
				return nil // another writer already completed the rename
			}
		}
		return ketcherr.DiskErr(err)
	}
	return nil
}

// Truncate discards the file's contents by cutting it to zero length and,
// when totalBytes >= 0, extending it back to totalBytes — used when a validator
// mismatch forces a restart from byte 0 (spec.md §4.6).
func (w *Writer) Truncate(totalBytes int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.f.Truncate(0); err != nil {
		return ketcherr.DiskErr(err)
	}
	if totalBytes >= 0 {
		if err := w.f.Truncate(totalBytes); err != nil {
			return ketcherr.DiskErr(err)
		}
	}
	return nil
}
