package spcm

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// CardLock is an advisory lock file enforcing exclusive ownership of one
// physical card per host process. The vendor SDK does not arbitrate
// between processes on its own, so two drivers opening the same serial
// number would silently fight over the sequencer.
type CardLock struct {
	path string
	file *os.File
}

// LockDir is where lock files are created. Overridable for tests.
var LockDir = "/tmp"

// AcquireCardLock takes the exclusive lock for the given serial number.
// It fails immediately (no blocking) if another process holds it.
func AcquireCardLock(serialNumber int) (*CardLock, error) {
	path := filepath.Join(LockDir, fmt.Sprintf("spcm-awg-%d.lock", serialNumber))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("card SN %d is in use by another process (lock %s): %w",
			serialNumber, path, err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	return &CardLock{path: path, file: f}, nil
}

// Release drops the lock. Safe to call on a nil lock.
func (l *CardLock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	l.file = nil
	os.Remove(l.path)
	return err
}
