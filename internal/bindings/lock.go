package bindings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// ErrLockTimeout is returned when the binding file lock stays held by a live
// owner for every retry.
var ErrLockTimeout = errors.New("bindings: lock timeout")

const (
	lockRetries    = 10
	lockRetryDelay = 50 * time.Millisecond
	lockStaleAfter = 30 * time.Second
)

type lockOwner struct {
	PID       int   `json:"pid"`
	CreatedAt int64 `json:"createdAt"` // unix ms
}

// fileLock is an advisory cross-process lock backed by an exclusively
// created sentinel file next to the guarded path.
type fileLock struct {
	path string
}

// acquireLock creates <path>.lock, retrying while another owner holds it and
// reclaiming locks older than the stale threshold.
func acquireLock(ctx context.Context, path string, now func() time.Time) (*fileLock, error) {
	lockPath := path + ".lock"
	for attempt := 0; attempt <= lockRetries; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			owner := lockOwner{PID: os.Getpid(), CreatedAt: now().UnixMilli()}
			werr := json.NewEncoder(f).Encode(owner)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(lockPath)
				return nil, fmt.Errorf("write lock file: %w", errors.Join(werr, cerr))
			}
			return &fileLock{path: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		if lockIsStale(lockPath, now()) {
			slog.Warn("bindings: reclaiming stale lock", "path", lockPath)
			if rerr := os.Remove(lockPath); rerr != nil && !errors.Is(rerr, os.ErrNotExist) {
				return nil, fmt.Errorf("remove stale lock: %w", rerr)
			}
			continue
		}

		if attempt == lockRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryDelay):
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrLockTimeout, lockPath)
}

// lockIsStale reports whether the lock file is old by mtime or by the owner
// timestamp recorded inside it.
func lockIsStale(lockPath string, now time.Time) bool {
	info, err := os.Stat(lockPath)
	if err != nil {
		// Vanished between create and stat: retry immediately.
		return errors.Is(err, os.ErrNotExist)
	}
	if now.Sub(info.ModTime()) > lockStaleAfter {
		return true
	}
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	var owner lockOwner
	if json.Unmarshal(data, &owner) != nil || owner.CreatedAt <= 0 {
		return false
	}
	return now.Sub(time.UnixMilli(owner.CreatedAt)) > lockStaleAfter
}

func (l *fileLock) release() {
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("bindings: release lock failed", "path", l.path, "error", err)
	}
}
