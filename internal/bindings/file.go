package bindings

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

// DefaultFileName is the snapshot file inside the state directory.
const DefaultFileName = "zalouser-subagent-bindings.json"

// FilePersister mirrors the store to a JSON file, written atomically under
// an advisory lock.
type FilePersister struct {
	path string
	now  func() time.Time

	mu         sync.Mutex
	lastDigest string
}

// NewFilePersister returns a persister writing to path.
func NewFilePersister(path string) *FilePersister {
	return &FilePersister{path: path, now: time.Now}
}

// Path returns the snapshot file path.
func (p *FilePersister) Path() string { return p.path }

// Load reads the snapshot. A missing file yields no records. Individual
// malformed records are skipped; an unreadable file or unknown version is an
// error.
func (p *FilePersister) Load(ctx context.Context) ([]Record, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bindings: %w", err)
	}
	p.setDigest(digest(data))
	return decodeSnapshot(data)
}

func decodeSnapshot(data []byte) ([]Record, error) {
	var raw struct {
		Version  int               `json:"version"`
		Bindings []json.RawMessage `json:"bindings"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode bindings: %w", err)
	}
	if raw.Version != FileVersion {
		return nil, fmt.Errorf("decode bindings: unsupported version %d", raw.Version)
	}

	records := make([]Record, 0, len(raw.Bindings))
	for i, item := range raw.Bindings {
		var rec Record
		if err := json.Unmarshal(item, &rec); err != nil {
			slog.Debug("bindings: skipping malformed record", "index", i, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Save writes records atomically: temp file, fsync, rename.
func (p *FilePersister) Save(ctx context.Context, records []Record) error {
	dir := filepath.Dir(p.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	if records == nil {
		records = []Record{}
	}
	data, err := json.MarshalIndent(Snapshot{Version: FileVersion, Bindings: records}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode bindings: %w", err)
	}
	data = append(data, '\n')

	lock, err := acquireLock(ctx, p.path, p.now)
	if err != nil {
		return err
	}
	defer lock.release()

	tmpFile, err := os.CreateTemp(dir, "bindings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	// Record the digest first so the watcher ignores the rename event.
	p.setDigest(digest(data))
	if err := os.Rename(tmpPath, p.path); err != nil {
		return fmt.Errorf("rename bindings: %w", err)
	}
	cleanup = false
	return nil
}

// IsOwnWrite reports whether data matches the last snapshot this persister
// read or wrote.
func (p *FilePersister) IsOwnWrite(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastDigest != "" && p.lastDigest == digest(data)
}

func (p *FilePersister) setDigest(d string) {
	p.mu.Lock()
	p.lastDigest = d
	p.mu.Unlock()
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
