package store

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DequeueApp/dequeue-sync-core/internal/clock"
)

const (
	lockSuffix     = ".lock"
	initialBackoff = 5 * time.Millisecond
	maxBackoff     = 50 * time.Millisecond
)

// writeLocker serializes writers to a single SQLite file across OS
// processes using an OS file lock on a sibling ".lock" file. The lock is
// released automatically if the holding process dies (including crashes),
// since OS file locks don't survive process exit.
type writeLocker struct {
	lockPath string
	lockFile *os.File
	clock    clock.Clock
}

// newWriteLocker opens (creating if necessary) the lock file sitting next
// to dbPath. For an in-memory database there is nothing to lock against
// other processes, so the lock degenerates to a no-op file in the OS temp
// directory. clk stamps the holder record and drives the deadline check,
// so a test can replace it with clock.Fixed/clock.Step instead of racing
// the wall clock; clk defaults to clock.System{} when nil.
func newWriteLocker(dbPath string, clk clock.Clock) (*writeLocker, error) {
	if clk == nil {
		clk = clock.System{}
	}
	lockPath := dbPath + lockSuffix
	if dbPath == ":memory:" {
		f, err := os.CreateTemp("", "dequeue-sync-*.lock")
		if err != nil {
			return nil, err
		}
		lockPath = f.Name()
		f.Close()
	}
	return &writeLocker{lockPath: lockPath, clock: clk}, nil
}

// acquire attempts to get an exclusive write lock, retrying with capped
// exponential backoff until timeout elapses or ctx is done. Every wait
// between retries is itself ctx-aware, so cancellation interrupts a
// pending backoff immediately instead of running it out first.
func (l *writeLocker) acquire(ctx context.Context, timeout time.Duration) error {
	f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	l.lockFile = f

	deadline := l.clock.Now().Add(timeout)
	backoff := initialBackoff

	for {
		if err := l.tryLock(); err == nil {
			l.writeHolder()
			return nil
		}

		if l.clock.Now().After(deadline) {
			holder := l.readHolder()
			l.lockFile.Close()
			l.lockFile = nil
			return fmt.Errorf("write lock timeout after %v\n  holder: %s\n  try again or check if the holder process is stuck", timeout, holder)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.lockFile.Close()
			l.lockFile = nil
			return ctx.Err()
		case <-timer.C:
		}

		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// release releases the write lock, clearing the holder info first.
func (l *writeLocker) release() {
	if l.lockFile == nil {
		return
	}
	l.lockFile.Truncate(0)
	l.unlock()
	l.lockFile.Close()
	l.lockFile = nil
}

// close releases the lock file handle entirely, for DB.Close.
func (l *writeLocker) close() {
	l.release()
}

func (l *writeLocker) writeHolder() {
	if l.lockFile == nil {
		return
	}
	l.lockFile.Truncate(0)
	l.lockFile.Seek(0, 0)
	fmt.Fprintf(l.lockFile, "pid:%d\ntime:%s\n", os.Getpid(), l.clock.Now().Format(time.RFC3339))
	l.lockFile.Sync()
}

func (l *writeLocker) readHolder() string {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return "unknown"
	}

	var pid, timestamp string
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		switch {
		case strings.HasPrefix(line, "pid:"):
			pid = strings.TrimPrefix(line, "pid:")
		case strings.HasPrefix(line, "time:"):
			timestamp = strings.TrimPrefix(line, "time:")
		}
	}
	if pid == "" {
		return "unknown"
	}

	pidInt, err := strconv.Atoi(pid)
	if err == nil && !isProcessAlive(pidInt) {
		return fmt.Sprintf("pid:%s since %s (STALE - process dead)", pid, timestamp)
	}
	return fmt.Sprintf("pid:%s since %s", pid, timestamp)
}

// tryLock, unlock, and isProcessAlive are implemented per-platform in
// lock_unix.go and lock_windows.go.
