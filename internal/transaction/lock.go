// Package transaction serializes operations on a package with lock files.
package transaction

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
)

const (
	// StaleLockThreshold is the maximum age of a lock before it's considered stale.
	StaleLockThreshold = 10 * time.Minute
)

var (
	ErrLockExists = errors.New("package lock exists: another operation may be in progress")
)

// LockInfo is the metadata written into a lock file.
type LockInfo struct {
	PID       int
	Timestamp time.Time
	ID        string // operation ID
	Operation string
}

// Lock represents a held package lock.
type Lock struct {
	path string
	file *os.File
	info LockInfo
}

// AcquireLock takes the lock <dir>/<name>.lock for operation op. Uses
// O_CREATE|O_EXCL for atomic lock creation. A lock older than
// StaleLockThreshold is removed and the acquisition retried once. When the
// lock is held, the returned error wraps ErrLockExists and names the holder.
func AcquireLock(ctx context.Context, dir, name, op string) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid lock name %q", name)
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	lockPath := filepath.Join(dir, name+".lock")

	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
	if err != nil {
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file: %w", err)
		}
		if isStale, _ := isLockStale(lockPath); !isStale {
			return nil, heldError(lockPath)
		}
		// Remove stale lock and retry once
		os.Remove(lockPath)
		file, err = os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0600)
		if err != nil {
			return nil, heldError(lockPath)
		}
	}

	info := LockInfo{
		PID:       os.Getpid(),
		Timestamp: time.Now().UTC().Truncate(time.Second),
		ID:        uuid.New().String(),
		Operation: op,
	}
	lockData := fmt.Sprintf("pid=%d\ntimestamp=%s\nid=%s\nop=%s\n",
		info.PID, info.Timestamp.Format(time.RFC3339), info.ID, info.Operation)
	if _, err := file.WriteString(lockData); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("write lock data: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(lockPath)
		return nil, fmt.Errorf("sync lock file: %w", err)
	}

	return &Lock{
		path: lockPath,
		file: file,
		info: info,
	}, nil
}

// ID returns the operation ID recorded in the lock.
func (l *Lock) ID() string {
	return l.info.ID
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release releases the lock. Releasing twice is not an error.
func (l *Lock) Release() error {
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}

	if l.path != "" {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove lock file: %w", err)
		}
		l.path = ""
	}

	return nil
}

// ReadLockInfo parses the metadata of a lock file.
func ReadLockInfo(lockPath string) (LockInfo, error) {
	file, err := os.Open(lockPath)
	if err != nil {
		return LockInfo{}, err
	}
	defer file.Close()

	var info LockInfo
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "timestamp":
			info.Timestamp, _ = time.Parse(time.RFC3339, value)
		case "id":
			info.ID = value
		case "op":
			info.Operation = value
		}
	}
	if err := scanner.Err(); err != nil {
		return LockInfo{}, fmt.Errorf("read lock file: %w", err)
	}
	return info, nil
}

// heldError describes who holds the lock at lockPath.
func heldError(lockPath string) error {
	info, err := ReadLockInfo(lockPath)
	if err != nil || info.PID == 0 {
		return ErrLockExists
	}
	return fmt.Errorf("%w (pid %d, %s since %s)", ErrLockExists, info.PID, info.Operation, info.Timestamp.Format(time.RFC3339))
}

// isLockStale checks if a lock file is older than the stale lock threshold.
func isLockStale(lockPath string) (bool, error) {
	info, err := os.Stat(lockPath)
	if err != nil {
		return false, err
	}

	age := time.Since(info.ModTime())
	return age > StaleLockThreshold, nil
}
