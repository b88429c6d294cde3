package jobstore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/compas-dev/compas/pkg/gate"
	"github.com/compas-dev/compas/pkg/gatetypes"
)

func waitForTerminal(t *testing.T, dir, jobID string) *Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := loadRecord(dir, jobID)
		if err != nil {
			t.Fatal(err)
		}
		if rec != nil && rec.Status != StatusRunning {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return nil
}

func TestStart_SucceedsAndRecordsPassingOutput(t *testing.T) {
	os.Unsetenv("AI_DX_JOB_NOTIFY_REDIS_ADDR")
	dir := t.TempDir()

	rec, err := Start(dir, "ci-fast", func(ctx context.Context) (gate.Output, error) {
		return gate.Output{Decision: gatetypes.Decision{Status: gatetypes.StatusPass}}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Status != StatusRunning {
		t.Fatalf("expected initial status running, got %s", rec.Status)
	}

	final := waitForTerminal(t, dir, rec.JobID)
	if final.Status != StatusSucceeded {
		t.Fatalf("expected succeeded, got %s (%s)", final.Status, final.ErrorMsg)
	}
}

func TestStart_FailingDecisionMarksJobFailed(t *testing.T) {
	dir := t.TempDir()

	rec, err := Start(dir, "ci-fast", func(ctx context.Context) (gate.Output, error) {
		return gate.Output{Decision: gatetypes.Decision{Status: gatetypes.StatusBlocked}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	final := waitForTerminal(t, dir, rec.JobID)
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
}

func TestStart_RunnerErrorMarksJobFailed(t *testing.T) {
	dir := t.TempDir()

	rec, err := Start(dir, "ci-fast", func(ctx context.Context) (gate.Output, error) {
		return gate.Output{}, errors.New("boom")
	})
	if err != nil {
		t.Fatal(err)
	}

	final := waitForTerminal(t, dir, rec.JobID)
	if final.Status != StatusFailed {
		t.Fatalf("expected failed, got %s", final.Status)
	}
	if final.ErrorCode != "gate.run_failed" {
		t.Errorf("expected gate.run_failed, got %s", final.ErrorCode)
	}
}

func TestStatus_ReturnsNilForUnknownJob(t *testing.T) {
	dir := t.TempDir()
	rec, err := Status(dir, "job_does_not_exist", 50)
	if err != nil {
		t.Fatal(err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestList_ReturnsJobsInInsertionOrder(t *testing.T) {
	dir := t.TempDir()

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := Start(dir, "ci-fast", func(ctx context.Context) (gate.Output, error) {
			return gate.Output{Decision: gatetypes.Decision{Status: gatetypes.StatusPass}}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rec.JobID)
		waitForTerminal(t, dir, rec.JobID)
	}

	listed, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != len(ids) {
		t.Fatalf("expected %d jobs, got %d: %v", len(ids), len(listed), listed)
	}
	for i, id := range ids {
		if listed[i] != id {
			t.Errorf("index %d: expected %s, got %s", i, id, listed[i])
		}
	}
}

func TestRingSize_EvictsOldestBeyondLimit(t *testing.T) {
	t.Setenv("AI_DX_JOB_RING_SIZE", "2")
	dir := t.TempDir()

	var ids []string
	for i := 0; i < 3; i++ {
		rec, err := Start(dir, "ci-fast", func(ctx context.Context) (gate.Output, error) {
			return gate.Output{Decision: gatetypes.Decision{Status: gatetypes.StatusPass}}, nil
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, rec.JobID)
		waitForTerminal(t, dir, rec.JobID)
	}

	listed, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) > 2 {
		t.Fatalf("expected ring size to cap at 2, got %d: %v", len(listed), listed)
	}
}

func TestNewNotifierFromEnv_NilWhenAddrUnset(t *testing.T) {
	os.Unsetenv("AI_DX_JOB_NOTIFY_REDIS_ADDR")
	if n := NewNotifierFromEnv(); n != nil {
		t.Fatalf("expected nil notifier, got %+v", n)
	}
}
