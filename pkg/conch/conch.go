// Package conch implements the advisory process lock that marks a voice
// conversation as active, so other processes (e.g. sound-effect hooks) can
// check whether to suppress themselves. Ported from original_source's
// voice_mode/conch.py, with the POSIX/Windows fcntl/msvcrt split collapsed
// onto github.com/gofrs/flock, which already abstracts it.
package conch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
)

const DefaultExpiry = 120 * time.Second

// LockInfo is the JSON contents of the lock file.
type LockInfo struct {
	PID      int       `json:"pid"`
	Agent    string    `json:"agent"`
	Acquired time.Time `json:"acquired"`
}

// DefaultPath returns ~/.voicemode/conch, falling back to a relative path if
// the home directory can't be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".voicemode", "conch")
	}
	return filepath.Join(home, ".voicemode", "conch")
}

// Conch is a named holder of the lock at path. Not safe for concurrent use
// by multiple goroutines on the same instance; acquire one per conversation.
type Conch struct {
	path      string
	agentName string
	expiry    time.Duration

	mu          sync.Mutex
	fl          *flock.Flock
	acquired    bool
	acquireTime time.Time
}

// New builds a Conch for path, held under agentName. expiry of 0 disables
// stale-lock clearing; a negative value is treated as DefaultExpiry.
func New(path, agentName string, expiry time.Duration) *Conch {
	if expiry < 0 {
		expiry = DefaultExpiry
	}
	return &Conch{path: path, agentName: agentName, expiry: expiry}
}

// TryAcquire attempts to take the lock without blocking, first clearing any
// stale lock (held past expiry) so a previously wedged process can't starve
// new acquisitions forever. Returns false, nil if another live process holds
// it.
func (c *Conch) TryAcquire() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.acquired {
		return true, nil
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return false, fmt.Errorf("conch: creating lock dir: %w", err)
	}

	c.clearStaleLocked()

	fl := flock.New(c.path)
	ok, err := fl.TryLock()
	if err != nil {
		return false, fmt.Errorf("conch: acquiring lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	now := time.Now()
	info := LockInfo{PID: os.Getpid(), Agent: c.agentOrUnknown(), Acquired: now}
	if err := writeLockInfo(c.path, info); err != nil {
		fl.Unlock()
		return false, err
	}

	c.fl = fl
	c.acquired = true
	c.acquireTime = now
	return true, nil
}

func (c *Conch) agentOrUnknown() string {
	if c.agentName == "" {
		return "unknown"
	}
	return c.agentName
}

func writeLockInfo(path string, info LockInfo) error {
	enc, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("conch: encoding lock info: %w", err)
	}
	// Written in place: renaming a new file over path would replace the
	// inode the flock is held on and let a second acquirer lock it.
	if err := os.WriteFile(path, enc, 0o644); err != nil {
		return fmt.Errorf("conch: writing lock file: %w", err)
	}
	return nil
}

// clearStaleLocked removes the lock file if its recorded acquire time is
// older than expiry. Must be called with c.mu held.
func (c *Conch) clearStaleLocked() {
	if c.expiry <= 0 {
		return
	}
	info, err := readLockInfo(c.path)
	if err != nil {
		return
	}
	if time.Since(info.Acquired) > c.expiry {
		os.Remove(c.path)
	}
}

func readLockInfo(path string) (LockInfo, error) {
	var info LockInfo
	data, err := os.ReadFile(path)
	if err != nil {
		return info, err
	}
	if err := json.Unmarshal(data, &info); err != nil {
		return info, err
	}
	return info, nil
}

// Release drops the lock (if held by this instance) and returns how long it
// was held. Releasing an instance that never acquired the lock is a no-op —
// removing the file would destroy another process's lock.
func (c *Conch) Release() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var held time.Duration
	if !c.acquireTime.IsZero() {
		held = time.Since(c.acquireTime)
	}

	if c.fl != nil {
		c.fl.Unlock()
		c.fl = nil
	}

	if c.acquired {
		os.Remove(c.path)
	}

	c.acquired = false
	c.acquireTime = time.Time{}
	return held
}

// IsActive reports whether a voice conversation is currently active: the
// lock file exists, its pid corresponds to a running process, and it isn't
// stale past expiry.
func IsActive(path string, expiry time.Duration) bool {
	info, err := readLockInfo(path)
	if err != nil {
		return false
	}
	if info.PID == 0 {
		return false
	}
	if !processAlive(info.PID) {
		return false
	}
	if expiry > 0 && time.Since(info.Acquired) > expiry {
		return false
	}
	return true
}

// GetHolder returns the current lock holder's info, or nil if no
// conversation is active.
func GetHolder(path string, expiry time.Duration) (*LockInfo, error) {
	if !IsActive(path, expiry) {
		return nil, nil
	}
	info, err := readLockInfo(path)
	if err != nil {
		return nil, nil
	}
	return &info, nil
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 performs existence/permission checks without delivering a
	// signal; this is POSIX-specific but matches the original's os.kill(pid, 0).
	return proc.Signal(syscall.Signal(0)) == nil
}
