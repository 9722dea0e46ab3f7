package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Pidfile is an exclusive lock on a data directory's daemon slot. The lock
// is advisory flock, so a crashed daemon releases it automatically; the pid
// written inside is informational.
type Pidfile struct {
	file *os.File
	path string
}

// AcquirePidfile locks path and records the current pid in it. It fails
// when another live process holds the lock.
func AcquirePidfile(path string) (*Pidfile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open pidfile: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		holder := "unknown"
		if pid, rerr := ReadPid(path); rerr == nil {
			holder = strconv.Itoa(pid)
		}
		f.Close()
		return nil, fmt.Errorf("daemon already running (pid %s)", holder)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate pidfile: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write pidfile: %w", err)
	}

	return &Pidfile{file: f, path: path}, nil
}

// Release drops the lock and removes the file.
func (p *Pidfile) Release() error {
	if err := p.file.Close(); err != nil {
		return err
	}
	return os.Remove(p.path)
}

// ReadPid returns the pid recorded in the pidfile at path.
func ReadPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed pidfile %s: %w", path, err)
	}
	return pid, nil
}

// Alive reports whether the process recorded in the pidfile still exists.
// A stale file from a crashed daemon reads as not alive.
func Alive(path string) bool {
	pid, err := ReadPid(path)
	if err != nil {
		return false
	}
	return unix.Kill(pid, 0) == nil
}
