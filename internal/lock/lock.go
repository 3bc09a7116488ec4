// Package lock guarantees a single flashd per instance directory and
// records how to reach it.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the lock file inside the instance directory.
const FileName = "LOCK"

// Owner describes the process holding the lock.
type Owner struct {
	PID      int       `toml:"pid"`
	Started  time.Time `toml:"started"`
	HTTPAddr string    `toml:"http_addr"`
}

// HeldError is returned when another process holds the instance lock.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("instance lock held by PID %d since %s (%s)",
		e.Owner.PID, e.Owner.Started.Format(time.RFC3339), e.Path)
}

// Lock is an acquired instance lock.
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Acquire takes an exclusive lock on dir and records owner in the lock file.
// PID and Started are filled in when zero.
func Acquire(dir string, owner Owner) (*Lock, error) {
	path := filepath.Join(dir, FileName)

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create instance dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		held := &HeldError{Path: path}
		if o, rerr := ReadOwner(dir); rerr == nil {
			held.Owner = *o
		}
		_ = f.Close()
		return nil, held
	}

	if owner.PID == 0 {
		owner.PID = os.Getpid()
	}
	if owner.Started.IsZero() {
		owner.Started = time.Now().UTC().Truncate(time.Second)
	}
	l := &Lock{file: f, path: path}
	if err := l.write(owner); err != nil {
		_ = f.Close()
		return nil, err
	}
	return l, nil
}

// SetHTTPAddr records the address the daemon actually listens on.
func (l *Lock) SetHTTPAddr(addr string) error {
	o := l.owner
	o.HTTPAddr = addr
	return l.write(o)
}

func (l *Lock) write(o Owner) error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	if err := toml.NewEncoder(l.file).Encode(o); err != nil {
		return fmt.Errorf("write lock owner: %w", err)
	}
	l.owner = o
	return nil
}

// ReadOwner returns the owner recorded in dir's lock file. The file may be
// stale if the owner crashed; callers should treat it as a hint.
func ReadOwner(dir string) (*Owner, error) {
	var o Owner
	if _, err := toml.DecodeFile(filepath.Join(dir, FileName), &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// Release releases the lock. Safe to call on a nil receiver and more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove before closing so a new owner never sees our content.
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}
