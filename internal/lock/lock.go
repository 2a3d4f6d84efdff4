// Package lock serializes daemon startup per session. An exclusive flock
// on a pidfile inside the session directory keeps a second chatlinkd from
// opening the same database and control socket.
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

const fileName = "LOCK"

// LockHeldError reports that a running daemon already owns the session.
type LockHeldError struct {
	PID  int
	Path string
}

func (e *LockHeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("session already in use by pid %d (lock file %s)", e.PID, e.Path)
	}
	return fmt.Sprintf("session already in use (lock file %s)", e.Path)
}

// Lock is a held session lock. Release it on shutdown.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive session lock, creating the session directory
// when it does not exist yet. When another process holds the lock the
// returned LockHeldError carries the owning pid read from the lock file.
func Acquire(sessionDir string) (*Lock, error) {
	if err := os.MkdirAll(sessionDir, 0700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	path := filepath.Join(sessionDir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		held := &LockHeldError{Path: path}
		if data, readErr := os.ReadFile(path); readErr == nil {
			held.PID = ownerPID(data)
		}
		_ = f.Close()
		return nil, held
	}

	if err := writeOwner(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock and removes its file. Safe on a nil or already
// released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// The file goes first so a crash between the two steps leaves no
	// stale pidfile behind.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

func writeOwner(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nacquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	return err
}

func ownerPID(data []byte) int {
	for _, line := range strings.Split(string(data), "\n") {
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			pid, _ := strconv.Atoi(strings.TrimSpace(v))
			return pid
		}
	}
	return 0
}
