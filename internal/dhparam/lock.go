package dhparam

import (
	"encoding/json"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// StaleAfter is the age beyond which a generation lock is considered
// abandoned. Generous on purpose: generation of large groups is slow, and a
// duplicate generation is only wasted CPU.
const StaleAfter = 24 * time.Hour

// LockRecord marks an in-flight background generation. Disk-resident so it
// survives process restarts; carries owner identity so a crash does not stall
// parameter strengthening forever.
type LockRecord struct {
	ID        string    `json:"id"`
	PID       int       `json:"pid"`
	Bits      int       `json:"bits"`
	StartedAt time.Time `json:"started_at"`
}

// NewLockRecord creates a lock record owned by the given process.
func NewLockRecord(pid, bits int) LockRecord {
	return LockRecord{
		ID:        uuid.NewString(),
		PID:       pid,
		Bits:      bits,
		StartedAt: time.Now().UTC(),
	}
}

// Stale reports whether the lock no longer corresponds to a live generation:
// either it aged out, or its owner process is provably gone.
func (l LockRecord) Stale(now time.Time) bool {
	if now.Sub(l.StartedAt) > StaleAfter {
		return true
	}
	if l.PID > 0 && !processAlive(l.PID) {
		return true
	}
	return false
}

// ReadLock loads the lock record at path. Returns ok=false when no lock
// exists. A legacy or corrupt lock file parses as a zero record, which only
// the age check can mark stale.
func ReadLock(path string) (LockRecord, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LockRecord{}, false, nil
		}
		return LockRecord{}, false, fmt.Errorf("read generation lock: %w", err)
	}

	var rec LockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		// Sentinel-style lock from an earlier version. Treat its mtime as the
		// start time so staleness still resolves.
		if info, statErr := os.Stat(path); statErr == nil {
			rec = LockRecord{StartedAt: info.ModTime()}
		}
	}
	return rec, true, nil
}

// WriteLock persists the lock record at path, replacing any existing one.
func WriteLock(path string, rec LockRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode generation lock: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write generation lock: %w", err)
	}
	return nil
}

// RemoveLock deletes the lock file. Missing is fine: removal must be
// unconditional on worker exit.
func RemoveLock(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove generation lock: %w", err)
	}
	return nil
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
