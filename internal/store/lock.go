package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/paritytech/rvm/internal/logging"
)

const (
	// lockFileName is the advisory lock scoped to the store root.
	lockFileName = ".rvm.lock"
	// StaleLockThreshold is the maximum age of a lock before it is
	// considered stale even when the holder PID cannot be probed.
	StaleLockThreshold = 10 * time.Minute
	// DefaultLockTimeout bounds how long a mutation waits for the lock.
	DefaultLockTimeout = 10 * time.Second
	// lockPollInterval is the retry cadence while waiting for the lock.
	lockPollInterval = 100 * time.Millisecond
)

// ErrLocked indicates the store lock could not be acquired within the
// timeout because another process holds it.
var ErrLocked = errors.New("version store is locked by another process")

// storeLock is the cross-process advisory lock guarding all store
// mutations. The lock file is created with O_CREATE|O_EXCL and records
// the holder's PID and acquisition time.
type storeLock struct {
	path string
	file *os.File
}

// acquireLock blocks until the exclusive store lock is acquired, the
// timeout elapses, or ctx is cancelled. A lock whose holder is no longer
// alive, or which is older than StaleLockThreshold, is broken.
func acquireLock(ctx context.Context, root string, timeout time.Duration) (*storeLock, error) {
	log := logging.Logger("store")
	lockPath := filepath.Join(root, lockFileName)
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		lock, err := tryLock(lockPath)
		if err == nil {
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}

		holder, meta, stale := lockHolder(lockPath)
		if stale {
			if breakStale(lockPath, meta) {
				log.Warn().Int("pid", holder).Str("path", lockPath).Msg("broke stale store lock")
			}
			continue
		}

		if time.Now().After(deadline) {
			if holder > 0 {
				return nil, fmt.Errorf("%w (held by pid %d)", ErrLocked, holder)
			}
			return nil, ErrLocked
		}

		select {
		case <-time.After(lockPollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// tryLock attempts a single atomic lock-file creation. The id line
// makes every lock instance's metadata unique, which the stale-break
// path relies on to tell a re-acquired lock from the stale one.
func tryLock(lockPath string) (*storeLock, error) {
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		return nil, err
	}

	meta := fmt.Sprintf("pid=%d\ntimestamp=%s\nid=%s\n",
		os.Getpid(), time.Now().UTC().Format(time.RFC3339), uuid.New().String())
	if _, err := file.WriteString(meta); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock metadata: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &storeLock{path: lockPath, file: file}, nil
}

// release removes the lock. Safe to call on every exit path.
func (l *storeLock) release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
	if l.path != "" {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
	}
	return nil
}

// breakStale disposes of a lock file previously judged stale. The
// metadata is re-read and must still match the observed snapshot, and
// the file is renamed aside before deletion. Either guard stops a
// waiter whose staleness verdict is outdated: a lock that was broken
// and re-acquired in the meantime carries different metadata, and only
// one waiter's rename of a given lock file can succeed.
func breakStale(lockPath, observed string) bool {
	if current := readLockMeta(lockPath); current != observed {
		return false
	}

	stalePath := fmt.Sprintf("%s.stale-%s", lockPath, uuid.New().String())
	if err := os.Rename(lockPath, stalePath); err != nil {
		return false
	}

	if current := readLockMeta(stalePath); current != observed {
		// The rename grabbed a lock acquired between the re-read and
		// the rename. Restore it.
		if err := os.Rename(stalePath, lockPath); err != nil {
			os.Remove(stalePath)
		}
		return false
	}

	os.Remove(stalePath)
	return true
}

// lockHolder reads the lock file and reports the holder PID, the raw
// metadata observed, and whether the lock is stale. A lock is stale
// when its holder is provably dead or the file is older than
// StaleLockThreshold. A lock whose metadata cannot be read yet
// (creation race) is not considered stale.
func lockHolder(lockPath string) (pid int, meta string, stale bool) {
	meta = readLockMeta(lockPath)
	pid = parseLockPID(meta)

	if pid > 0 {
		alive, err := process.PidExists(int32(pid))
		if err == nil && !alive {
			return pid, meta, true
		}
	}

	info, err := os.Stat(lockPath)
	if err != nil {
		return pid, meta, false
	}
	return pid, meta, time.Since(info.ModTime()) > StaleLockThreshold
}

func readLockMeta(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return ""
	}
	return string(data)
}

func parseLockPID(meta string) int {
	scanner := bufio.NewScanner(strings.NewReader(meta))
	for scanner.Scan() {
		if value, ok := strings.CutPrefix(scanner.Text(), "pid="); ok {
			pid, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return 0
			}
			return pid
		}
	}
	return 0
}
