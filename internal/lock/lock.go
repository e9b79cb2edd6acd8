// Package lock keeps a session directory single-writer. The cache db
// and the outbox are not safe under two processes, so convod and
// convotui each take the session lock before touching either.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const lockFileName = "LOCK"

// LockHeldError reports that another convo process owns the session.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("session already in use by pid %d (%s)", e.PID, e.Path)
}

// Lock is a held session lock. Release it before the process exits so
// the lock file does not linger.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive session lock, creating the session
// directory if needed. A session locked by a live process yields a
// LockHeldError naming that process.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	path := filepath.Join(sessionDir, lockFileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open session lock: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		data, _ := os.ReadFile(path)
		_ = f.Close()
		return nil, &LockHeldError{PID: ownerPID(string(data)), Path: path}
	}

	if err := stampOwner(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write session lock: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock. Safe on a nil receiver and idempotent, so
// deferred teardown paths can call it unconditionally.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Drop the file first so a later Acquire never reads our stale pid.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// stampOwner records who holds the lock, for the LockHeldError on the
// losing side. The flock itself is what enforces exclusivity.
func stampOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "%d %s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func ownerPID(content string) int {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return 0
	}
	pid, _ := strconv.Atoi(fields[0])
	return pid
}
