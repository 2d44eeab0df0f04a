package walog

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// WAL is the append-only log file. A mutex protects the in-memory
// nextLSN counter and the file writes; a separate durable watermark
// (persistentLSN) is advanced only by Sync/FlushTo, matching the
// "commit is not visible until persistentLSN >= commit LSN" rule.
type WAL struct {
	mu   sync.Mutex
	file *os.File
	path string

	nextLSN       LSN
	persistentLSN LSN
}

// Open opens or creates a WAL file, positioned for appending after any
// existing content. It does not replay — recovery is a separate step
// driven by the recovery manager reading records back with ReadAll.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("walog: open %s: %w", path, err)
	}
	w := &WAL{file: f, path: path, nextLSN: 1}

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, fmt.Errorf("walog: seek end: %w", err)
	}

	// Recompute nextLSN/persistentLSN from whatever is already on disk so
	// reopening an existing log continues the LSN sequence correctly.
	records, err := readAllFrom(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("walog: scan existing log: %w", err)
	}
	for _, r := range records {
		if r.LSN >= w.nextLSN {
			w.nextLSN = r.LSN + 1
		}
	}
	w.persistentLSN = w.nextLSN - 1
	return w, nil
}

// Append assigns the next LSN to rec, writes it to the log file (without
// fsync), and returns the assigned LSN. It does not guarantee durability; call FlushTo or Sync.
func (w *WAL) Append(rec Record) (LSN, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	rec.LSN = w.nextLSN
	w.nextLSN++

	buf := marshal(&rec)
	if _, err := w.file.Write(buf); err != nil {
		return 0, fmt.Errorf("walog: append: %w", err)
	}
	return rec.LSN, nil
}

// FlushTo guarantees every record up to and including lsn is durable. It
// may flush more (the implementation simply fsyncs the whole file, so it
// always does).
func (w *WAL) FlushTo(lsn LSN) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if lsn <= w.persistentLSN {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("walog: flush: %w", err)
	}
	if w.nextLSN-1 > w.persistentLSN {
		w.persistentLSN = w.nextLSN - 1
	}
	return nil
}

// Sync flushes every record appended so far.
func (w *WAL) Sync() error {
	w.mu.Lock()
	target := w.nextLSN - 1
	w.mu.Unlock()
	return w.FlushTo(target)
}

// PersistentLSN reports the highest LSN known durable.
func (w *WAL) PersistentLSN() LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.persistentLSN
}

// NextLSN previews the LSN that will be assigned to the next Append.
func (w *WAL) NextLSN() LSN {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextLSN
}

// ReadAll returns every well-formed record currently in the log, in
// append order. A truncated trailing record (crash mid-write) is
// silently dropped, matching crash-safe log semantics.
func (w *WAL) ReadAll() ([]Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	defer w.file.Seek(0, io.SeekEnd)
	return readAllFrom(w.file)
}

func readAllFrom(f *os.File) ([]Record, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var records []Record
	for len(data) > 0 {
		rec, n, err := unmarshal(data)
		if err != nil {
			break // truncated tail — stop, as a crash would leave it
		}
		records = append(records, *rec)
		data = data[n:]
	}
	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return nil, err
	}
	return records, nil
}

// Truncate resets the log to empty, used after a successful checkpoint.
func (w *WAL) Truncate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Truncate(0); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return nil
}

// Close syncs and closes the log file.
func (w *WAL) Close() error {
	if err := w.Sync(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
