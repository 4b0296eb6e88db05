// Package lockfile provides a single-instance guard so two agents never run
// against the same state directory at once.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	// ErrAlreadyLocked indicates the lock is held by another process.
	ErrAlreadyLocked = errors.New("lock already held")
)

// Owner is written into the lock file for troubleshooting a stuck lock.
type Owner struct {
	PID       int    `json:"pid"`
	Hostname  string `json:"hostname,omitempty"`
	StartedAt string `json:"started_at"`
}

type Lock struct {
	path string
	f    *os.File
}

func Acquire(path string) (*Lock, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("lock path is empty")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}

	// Best-effort: record the owner for troubleshooting.
	hostname, _ := os.Hostname()
	owner := Owner{
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	}
	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	if b, err := json.Marshal(owner); err == nil {
		_, _ = f.Write(append(b, '\n'))
	}
	_ = f.Sync()

	return &Lock{path: path, f: f}, nil
}

// ReadOwner reports who holds (or last held) the lock at path.
func ReadOwner(path string) (Owner, error) {
	var owner Owner
	b, err := os.ReadFile(path)
	if err != nil {
		return owner, err
	}
	if err := json.Unmarshal(b, &owner); err != nil {
		return owner, err
	}
	return owner, nil
}

func (l *Lock) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	// Unlock first; close always.
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if unlockErr != nil {
		return unlockErr
	}
	return closeErr
}
