package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	pidFilePermissions = 0o644
	pidDirPermissions  = 0o755
)

// pidLock is a running gateway's claim on its PID file. The flock is held
// until Release, so a second serve pointed at the same file fails instead
// of overwriting the PID that reload signals.
type pidLock struct {
	path string
	f    *os.File
}

// lockPIDFile creates path (and its parent directories), takes a
// non-blocking exclusive flock and records the current PID in it.
func lockPIDFile(path string) (*pidLock, error) {
	if path == "" {
		return nil, errors.New("PID file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), pidDirPermissions); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, pidFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("another gateway is already running (%s is locked)", path)
	}

	if err := recordPID(f); err != nil {
		f.Close()

		return nil, err
	}

	return &pidLock{path: path, f: f}, nil
}

// recordPID replaces the file contents with the current PID and syncs.
func recordPID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("syncing PID file: %w", err)
	}

	return nil
}

// Release removes the PID file and drops the lock. The file is removed
// first so no other process can observe an unlocked file with our PID.
func (l *pidLock) Release() {
	os.Remove(l.path)
	l.f.Close()
}

func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// signalGateway delivers sig to the gateway recorded in path. A PID file
// left behind by a dead process is removed.
func signalGateway(path string, sig syscall.Signal) error {
	pid, err := readPID(path)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no running gateway found (no PID file at %s)", path)
	}

	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding gateway process %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.Signal(0)); err != nil {
		os.Remove(path)

		return fmt.Errorf("gateway (PID %d) is not running, removed stale %s", pid, path)
	}

	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("sending %s to gateway (PID %d): %w", sig, pid, err)
	}

	return nil
}
