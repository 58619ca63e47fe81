// Package ledger implements the crash-safe artifact index.
//
// The ledger is an append-only newline-delimited JSON file. Each line is one
// committed artifact record keyed by content hash. On startup the file is
// replayed to rebuild the in-memory dedup set; individual malformed lines
// are skipped so one corrupt record never fails the whole load. Records are
// never rewritten or deleted.
package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// UploadStatus mirrors the upload outcome recorded alongside an artifact.
type UploadStatus struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Provider string `json:"provider,omitempty"`
	DraftURL string `json:"draft_url,omitempty"`
}

// Record is one committed artifact.
//
// Hash may be empty, meaning the artifact could not be hashed; empty-hash
// records are never treated as duplicates of each other. Readers must
// tolerate unknown fields: the on-disk format is forward compatible and
// only "hash" is required for correctness.
type Record struct {
	Prompt          string        `json:"prompt,omitempty"`
	Title           string        `json:"title,omitempty"`
	Tags            []string      `json:"tags,omitempty"`
	Seed            int64         `json:"seed,omitempty"`
	Hash            string        `json:"hash"`
	VideoPath       string        `json:"video_path,omitempty"`
	DurationSeconds float64       `json:"duration,omitempty"`
	SDBackend       string        `json:"sd_backend,omitempty"`
	VideoBackend    string        `json:"video_backend,omitempty"`
	Upload          *UploadStatus `json:"upload,omitempty"`
	CreatedAt       time.Time     `json:"created_at,omitempty"`
}

// Ledger owns the on-disk file and the in-memory dedup set. One Ledger
// instance per process owns the file; replaying the file from empty always
// reconstructs the current dedup set.
type Ledger struct {
	path string

	mu     sync.Mutex
	f      *os.File
	hashes map[string]struct{}
}

// Open loads the existing ledger (creating it if absent) and returns a
// handle ready for appends.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	hashes, err := loadHashes(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	return &Ledger{path: path, f: f, hashes: hashes}, nil
}

// loadHashes replays every record of the ledger file, skipping lines that
// fail to parse or carry no hash.
func loadHashes(path string) (map[string]struct{}, error) {
	hashes := make(map[string]struct{})

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return hashes, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		if rec.Hash != "" {
			hashes[rec.Hash] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan ledger: %w", err)
	}
	return hashes, nil
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Contains reports whether the hash has already been committed. The empty
// hash is never a duplicate.
func (l *Ledger) Contains(hash string) bool {
	if hash == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.hashes[hash]
	return ok
}

// Len returns the number of distinct hashes in the dedup set.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hashes)
}

// Append commits one record as a single newline-terminated write and adds
// its hash to the dedup set. Safe for concurrent use; lines are never
// interleaved. The file handle is opened O_APPEND, so short of a torn OS
// write the record lands intact even with other writers present.
func (l *Ledger) Append(rec Record) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal ledger record: %w", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.f == nil {
		return fmt.Errorf("ledger is closed")
	}
	if err := writeAll(l.f, b); err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}
	if rec.Hash != "" {
		l.hashes[rec.Hash] = struct{}{}
	}
	return nil
}

// Close releases the underlying file handle. Further appends fail.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// writeAll handles short writes: io.Writer may return n < len(p) with a nil
// error, which would truncate a JSONL line and corrupt the ledger.
func writeAll(f *os.File, p []byte) error {
	for len(p) > 0 {
		n, err := f.Write(p)
		if err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}
