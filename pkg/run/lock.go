package run

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tombee/maestro/pkg/errors"
)

const (
	// DefaultLockDeadline bounds how long lock acquisition retries.
	DefaultLockDeadline = 5 * time.Second

	// DefaultLockTTL is the age past which a lock file is considered stale
	// and may be reclaimed from a dead writer.
	DefaultLockTTL = 30 * time.Second

	lockRetryBase = 25 * time.Millisecond
	lockRetryMax  = 500 * time.Millisecond
)

// lockInfo is the on-disk content of a lock file, recording its owner.
type lockInfo struct {
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// fileLock is a per-run exclusive lock realised as an on-disk lock file.
// The file is created with O_EXCL and deleted (not truncated) on release so
// waiters can detect freedom deterministically.
type fileLock struct {
	path     string
	deadline time.Duration
	ttl      time.Duration
	now      func() time.Time
}

func newFileLock(path string, deadline, ttl time.Duration, now func() time.Time) *fileLock {
	if deadline <= 0 {
		deadline = DefaultLockDeadline
	}
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	if now == nil {
		now = time.Now
	}
	return &fileLock{path: path, deadline: deadline, ttl: ttl, now: now}
}

// Acquire takes the lock, retrying with bounded backoff until the deadline.
// Stale locks older than the TTL are reclaimed.
func (l *fileLock) Acquire(runID string) error {
	start := l.now()
	backoff := lockRetryBase

	for {
		err := l.tryAcquire()
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquiring lock for run %s: %w", runID, err)
		}

		holder := l.reclaimIfStale()

		if l.now().Sub(start) >= l.deadline {
			return &errors.LockTimeoutError{
				RunID:  runID,
				Holder: holder,
				Waited: l.now().Sub(start),
			}
		}

		time.Sleep(backoff)
		if backoff *= 2; backoff > lockRetryMax {
			backoff = lockRetryMax
		}
	}
}

// tryAcquire attempts a single exclusive create of the lock file.
func (l *fileLock) tryAcquire() error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}

	info := lockInfo{PID: os.Getpid(), AcquiredAt: l.now()}
	data, err := json.Marshal(info)
	if err == nil {
		_, err = f.Write(data)
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(l.path)
		return fmt.Errorf("writing lock owner: %w", err)
	}
	return nil
}

// reclaimIfStale removes the lock file if its recorded acquisition time is
// older than the TTL, and returns the recorded holder PID (0 if unknown).
func (l *fileLock) reclaimIfStale() int {
	data, err := os.ReadFile(l.path)
	if err != nil {
		// Holder released between our create attempt and this read.
		return 0
	}

	var info lockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		// Unreadable lock files are treated as stale once past the TTL,
		// using the file mtime as the acquisition time.
		if stat, statErr := os.Stat(l.path); statErr == nil {
			info.AcquiredAt = stat.ModTime()
		} else {
			return 0
		}
	}

	if l.now().Sub(info.AcquiredAt) > l.ttl {
		os.Remove(l.path)
	}
	return info.PID
}

// Release deletes the lock file.
func (l *fileLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("releasing lock: %w", err)
	}
	return nil
}
