// Package jobstore implements the async job store: a directory of
// JSON-serialized job records guarded by an exclusive lock file, so a gate
// invocation can be started in the background and polled for completion
// without holding a caller connection open. Grounded on the distilled
// spec's §4.10 and the original engine's job-queue module, re-expressed
// over this port's write-temp-then-rename file idiom already established
// in pkg/witness.
package jobstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/compas-dev/compas/pkg/gate"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

// StateRelPath is the job store's directory, relative to the repo root.
const StateRelPath = ".agents/mcp/compas/state/jobs"

// Status is a job record's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Record is one job's persisted state.
type Record struct {
	JobID      string      `json:"job_id"`
	Status     Status      `json:"status"`
	OwnerPID   int         `json:"owner_pid"`
	StartedAt  string      `json:"started_at"`
	UpdatedAt  string      `json:"updated_at"`
	Kind       string      `json:"kind"`
	Output     *gate.Output `json:"output,omitempty"`
	ErrorCode  string      `json:"error_code,omitempty"`
	ErrorMsg   string      `json:"error_message,omitempty"`
}

type index struct {
	JobIDs []string `json:"job_ids"` // oldest first; newest last, deduplicated
}

var seq int64

// nextJobID allocates a unique ID from wall-clock milliseconds, the
// current process ID, and a monotonically increasing in-process counter,
// matching spec's "clock ms + process id + atomic counter" construction.
func nextJobID(now time.Time) string {
	n := atomic.AddInt64(&seq, 1)
	return fmt.Sprintf("job_%d_%d_%d", now.UnixMilli(), os.Getpid(), n)
}

func stateDir(repoRoot string) string {
	return filepath.Join(repoRoot, filepath.FromSlash(StateRelPath))
}

func lockPath(repoRoot string) string {
	return filepath.Join(stateDir(repoRoot), ".lock")
}

func indexPath(repoRoot string) string {
	return filepath.Join(stateDir(repoRoot), "index.json")
}

func recordPath(repoRoot, jobID string) string {
	return filepath.Join(stateDir(repoRoot), jobID+".json")
}

func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d.%s", path, os.Getpid(), uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// lockBackoff is the acquire-retry schedule: roughly 3.7s of total backoff
// across ten attempts with growing waits.
var lockBackoff = []time.Duration{
	10 * time.Millisecond, 25 * time.Millisecond, 50 * time.Millisecond, 100 * time.Millisecond,
	150 * time.Millisecond, 250 * time.Millisecond, 400 * time.Millisecond, 600 * time.Millisecond,
	900 * time.Millisecond, 1200 * time.Millisecond,
}

// withLock runs fn while holding the store's exclusive lock file, created
// via create_new (O_CREATE|O_EXCL) so only one process can hold it at a
// time. Stale locks older than 30s are treated as abandoned and removed.
func withLock(repoRoot string, fn func() error) error {
	path := lockPath(repoRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var f *os.File
	for _, wait := range append(lockBackoff, 0) {
		var err error
		f, err = os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			break
		}
		if !os.IsExist(err) {
			return err
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > 30*time.Second {
			os.Remove(path)
			continue
		}
		if wait == 0 {
			return fmt.Errorf("jobstore: could not acquire lock at %s", path)
		}
		time.Sleep(wait)
	}
	if f == nil {
		return fmt.Errorf("jobstore: could not acquire lock at %s", path)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()
	defer os.Remove(path)

	return fn()
}

func loadIndex(repoRoot string) (index, error) {
	raw, err := os.ReadFile(indexPath(repoRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return index{}, nil
		}
		return index{}, err
	}
	var idx index
	if err := json.Unmarshal(raw, &idx); err != nil {
		return index{}, fmt.Errorf("jobstore: invalid index.json: %w", err)
	}
	return idx, nil
}

func loadRecord(repoRoot, jobID string) (*Record, error) {
	raw, err := os.ReadFile(recordPath(repoRoot, jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("jobstore: invalid record for %s: %w", jobID, err)
	}
	return &rec, nil
}

func saveRecord(repoRoot string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(recordPath(repoRoot, rec.JobID), data)
}

// TTLSeconds reads AI_DX_JOB_TTL_SECS, defaulting to 24h.
func TTLSeconds() int64 {
	return envInt64("AI_DX_JOB_TTL_SECS", 24*60*60)
}

// RingSize reads AI_DX_JOB_RING_SIZE, defaulting to 200.
func RingSize() int {
	return int(envInt64("AI_DX_JOB_RING_SIZE", 200))
}

// StatusWaitMaxMs reads AI_DX_GATE_STATUS_WAIT_MAX_MS, defaulting to 15s.
func StatusWaitMaxMs() int64 {
	return envInt64("AI_DX_GATE_STATUS_WAIT_MAX_MS", 15000)
}

func envInt64(name string, def int64) int64 {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	var parsed int64
	if _, err := fmt.Sscanf(v, "%d", &parsed); err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

// pruneAndCheckLocked applies TTL eviction, ring-size capping, and
// cross-session owner_pid reconciliation. Must be called with the store
// lock held.
func pruneAndCheckLocked(repoRoot string) (index, error) {
	idx, err := loadIndex(repoRoot)
	if err != nil {
		return index{}, err
	}

	ttl := time.Duration(TTLSeconds()) * time.Second
	ring := RingSize()
	now := time.Now().UTC()
	currentPID := os.Getpid()

	kept := idx.JobIDs[:0:0]
	for _, id := range idx.JobIDs {
		rec, err := loadRecord(repoRoot, id)
		if err != nil || rec == nil {
			continue
		}

		if rec.Status == StatusRunning && rec.OwnerPID != currentPID {
			if !processAlive(rec.OwnerPID) {
				rec.Status = StatusFailed
				rec.ErrorCode = "gate.runner_interrupted"
				rec.ErrorMsg = "owning process is no longer running"
				rec.UpdatedAt = now.Format(time.RFC3339)
				_ = saveRecord(repoRoot, *rec)
			}
		}

		started, parseErr := time.Parse(time.RFC3339, rec.StartedAt)
		if parseErr == nil && now.Sub(started) > ttl {
			os.Remove(recordPath(repoRoot, id))
			continue
		}
		kept = append(kept, id)
	}

	if len(kept) > ring {
		evicted := kept[:len(kept)-ring]
		kept = kept[len(kept)-ring:]
		for _, id := range evicted {
			os.Remove(recordPath(repoRoot, id))
		}
	}

	idx.JobIDs = kept
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return index{}, err
	}
	if err := writeAtomic(indexPath(repoRoot), data); err != nil {
		return index{}, err
	}
	return idx, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal(0) performs existence/permission checks only, sending nothing.
	return proc.Signal(syscall.Signal(0)) == nil
}

func appendToIndex(idx index, jobID string) index {
	out := idx.JobIDs[:0:0]
	for _, id := range idx.JobIDs {
		if id != jobID {
			out = append(out, id)
		}
	}
	idx.JobIDs = append(out, jobID)
	return idx
}

// Start allocates a new job record in state "running" and spawns runGate
// concurrently, returning immediately with the freshly created record.
// The caller supplies runGate (typically a closure over gate.Run) so this
// package stays independent of any particular gate invocation signature.
func Start(repoRoot, kind string, runGate func(context.Context) (gate.Output, error)) (Record, error) {
	notifier := NewNotifierFromEnv()
	now := time.Now().UTC()
	rec := Record{
		JobID:     nextJobID(now),
		Status:    StatusRunning,
		OwnerPID:  os.Getpid(),
		StartedAt: now.Format(time.RFC3339),
		UpdatedAt: now.Format(time.RFC3339),
		Kind:      kind,
	}

	err := withLock(repoRoot, func() error {
		idx, err := pruneAndCheckLocked(repoRoot)
		if err != nil {
			return err
		}
		if err := saveRecord(repoRoot, rec); err != nil {
			return err
		}
		idx = appendToIndex(idx, rec.JobID)
		if ring := RingSize(); len(idx.JobIDs) > ring {
			for _, id := range idx.JobIDs[:len(idx.JobIDs)-ring] {
				os.Remove(recordPath(repoRoot, id))
			}
			idx.JobIDs = idx.JobIDs[len(idx.JobIDs)-ring:]
		}
		data, err := json.MarshalIndent(idx, "", "  ")
		if err != nil {
			return err
		}
		return writeAtomic(indexPath(repoRoot), data)
	})
	if err != nil {
		return Record{}, err
	}

	go func() {
		out, runErr := runGate(context.Background())
		finished := Record{
			JobID:     rec.JobID,
			OwnerPID:  rec.OwnerPID,
			StartedAt: rec.StartedAt,
			UpdatedAt: time.Now().UTC().Format(time.RFC3339),
			Kind:      kind,
		}
		if runErr != nil {
			finished.Status = StatusFailed
			finished.ErrorCode = "gate.run_failed"
			finished.ErrorMsg = runErr.Error()
		} else {
			finished.Status = StatusSucceeded
			finished.Output = &out
			if out.Decision.Status != gatetypes.StatusPass {
				finished.Status = StatusFailed
			}
		}
		_ = withLock(repoRoot, func() error {
			return saveRecord(repoRoot, finished)
		})
		if notifier != nil {
			notifier.Publish(context.Background(), finished)
			notifier.Close()
		}
	}()

	return rec, nil
}

// Status polls the record for jobID, blocking (at 200ms intervals) until
// it reaches a terminal state or waitMs elapses, whichever comes first.
// waitMs is always clamped to StatusWaitMaxMs.
func Status(repoRoot, jobID string, waitMs int64) (*Record, error) {
	maxWait := StatusWaitMaxMs()
	if waitMs <= 0 || waitMs > maxWait {
		waitMs = maxWait
	}
	deadline := time.Now().Add(time.Duration(waitMs) * time.Millisecond)

	for {
		rec, err := loadRecord(repoRoot, jobID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, nil
		}
		if rec.Status != StatusRunning || time.Now().After(deadline) {
			return rec, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// List returns the current index's job IDs in insertion order, oldest
// first and newest last, matching the on-disk ring's own ordering.
func List(repoRoot string) ([]string, error) {
	idx, err := loadIndex(repoRoot)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), idx.JobIDs...), nil
}
