// Package pidfile guards a process with an exclusive pid file.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by Acquire when the file names a live process.
var ErrAlreadyRunning = errors.New("process already running")

// File is an acquired pid file.
type File struct {
	path string
	pid  int
}

// Acquire writes the current pid to path. A file left behind by a process
// that no longer exists is replaced.
func Acquire(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create pid file directory: %w", err)
	}

	pid := os.Getpid()
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", pid)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("failed to write pid file: %w", errors.Join(werr, cerr))
			}
			return &File{path: path, pid: pid}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create pid file: %w", err)
		}

		other, rerr := Read(path)
		if rerr == nil && alive(other) {
			return nil, fmt.Errorf("%w: pid %d (%s)", ErrAlreadyRunning, other, path)
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale pid file: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to acquire pid file %s", path)
}

// Read returns the pid stored in path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid pid file %s", path)
	}
	return pid, nil
}

// Path returns the file path.
func (f *File) Path() string {
	return f.path
}

// Release removes the file if it still holds our pid.
func (f *File) Release() error {
	pid, err := Read(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil || pid != f.pid {
		return nil
	}
	return os.Remove(f.path)
}

func alive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
