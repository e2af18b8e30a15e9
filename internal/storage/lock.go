package storage

import (
	"os"
	"sync"
	"syscall"
)

// FileLock serializes writers of one key. Durable storage additionally takes
// an flock on a sibling .lock file so separate processes do not interleave.
type FileLock struct {
	path  string
	flock bool
	file  *os.File
	mu    sync.Mutex
}

// NewFileLock creates a new lock. When flock is false only the in-process
// mutex is used, which is all the in-memory scope needs.
func NewFileLock(path string, flock bool) *FileLock {
	return &FileLock{path: path, flock: flock}
}

// Lock acquires an exclusive lock on the file.
func (l *FileLock) Lock() error {
	l.mu.Lock()
	if !l.flock {
		return nil
	}

	var err error
	l.file, err = os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		l.mu.Unlock()
		return err
	}

	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX); err != nil {
		l.file.Close()
		l.file = nil
		l.mu.Unlock()
		return err
	}

	return nil
}

// Unlock releases the lock.
func (l *FileLock) Unlock() error {
	if l.file != nil {
		syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
		l.file.Close()
		os.Remove(l.path + ".lock")
		l.file = nil
	}
	l.mu.Unlock()
	return nil
}
