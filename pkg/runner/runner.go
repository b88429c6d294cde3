// Package runner spawns one external tool process per invocation with
// bounded output capture, timeout/kill handling, and a dry-run mode.
// Grounded on the distilled spec's §4.8 and the original engine's
// tool_runner.rs process-spawn/capture design, re-expressed with
// os/exec and a small rolling-tail io.Writer.
package runner

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/compas-dev/compas/pkg/config"
	"github.com/compas-dev/compas/pkg/gatetypes"
	"github.com/compas-dev/compas/pkg/telemetry"
)

// capturedAbortedPlaceholderFmt formats the tail substituted for a stream
// that captured no bytes before its process was killed on timeout.
const capturedAbortedPlaceholderFmt = "<%s capture aborted after timeout>"

// emptyHash is the SHA-256 of the empty byte string, used for aborted
// captures whose actual content is unknown.
var emptyHash = sha256hex(nil)

func sha256hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// tailWriter is an io.Writer that keeps a rolling tail of at most max
// bytes, a running SHA-256 hash of everything written, and a total byte
// count.
type tailWriter struct {
	mu    sync.Mutex
	max   int
	tail  []byte
	buf   bytes.Buffer
	count int64
}

func newTailWriter(max int) *tailWriter {
	if max <= 0 {
		max = 1
	}
	return &tailWriter{max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count += int64(len(p))
	w.buf.Write(p)

	w.tail = append(w.tail, p...)
	if len(w.tail) > w.max {
		w.tail = w.tail[len(w.tail)-w.max:]
	}
	return len(p), nil
}

func (w *tailWriter) Snapshot() (tail string, sha string, count int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.tail), sha256hex(w.buf.Bytes()), w.count
}

// Options configures a single tool invocation.
type Options struct {
	Tool              config.ProjectTool
	RepoRoot          string
	ExtraArgs         []string
	TimeoutOverrideMs uint64 // 0 means "no override"; effective timeout is min(tool.TimeoutMs, override) when both are set
	DryRun            bool
}

func effectiveTimeout(tool config.ProjectTool, overrideMs uint64) time.Duration {
	ms := tool.TimeoutMs
	if ms == 0 {
		ms = 30_000
	}
	if overrideMs > 0 && overrideMs < ms {
		ms = overrideMs
	}
	return time.Duration(ms) * time.Millisecond
}

// Run spawns the tool's command, bounding stdout/stderr capture and
// killing the child if it runs longer than the effective timeout.
// DryRun short-circuits with a synthetic success receipt.
func Run(ctx context.Context, opts Options) (receipt gatetypes.Receipt) {
	tool := opts.Tool

	ctx, endSpan := telemetry.Global().TrackOperation(ctx, "compas.tool", telemetry.ToolOperation(tool.ID)...)
	defer func() {
		var spanErr error
		if !receipt.Success {
			spanErr = fmt.Errorf("tool %s failed", tool.ID)
		}
		endSpan(spanErr)
	}()

	if opts.DryRun {
		sha := sha256hex([]byte("[dry_run]"))
		return gatetypes.Receipt{
			ToolID: tool.ID, Success: true, ExitCode: intPtr(0),
			Command: tool.Command, Args: append(append([]string(nil), tool.Args...), opts.ExtraArgs...),
			StdoutTail: "[dry_run]", StdoutBytes: int64(len("[dry_run]")), StdoutSha256: sha,
			StderrTail: "", StderrBytes: 0, StderrSha256: emptyHash,
		}
	}

	maxStdout := tool.MaxStdoutBytes
	if maxStdout <= 0 {
		maxStdout = 64 * 1024
	}
	maxStderr := tool.MaxStderrBytes
	if maxStderr <= 0 {
		maxStderr = 64 * 1024
	}

	timeout := effectiveTimeout(tool, opts.TimeoutOverrideMs)
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := append(append([]string(nil), tool.Args...), opts.ExtraArgs...)
	cmd := exec.CommandContext(runCtx, tool.Command, args...)
	cmd.Cancel = func() error { return cmd.Process.Kill() }
	cmd.WaitDelay = 250 * time.Millisecond

	if tool.Cwd != "" {
		cmd.Dir = filepath.Join(opts.RepoRoot, filepath.FromSlash(tool.Cwd))
	} else {
		cmd.Dir = opts.RepoRoot
	}

	env := os.Environ()
	for k, v := range tool.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = env

	stdout := newTailWriter(maxStdout)
	stderr := newTailWriter(maxStderr)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	timedOut := runCtx.Err() == context.DeadlineExceeded

	receipt = gatetypes.Receipt{
		ToolID:     tool.ID,
		TimedOut:   timedOut,
		DurationMs: duration.Milliseconds(),
		Command:    tool.Command,
		Args:       args,
	}

	// cmd.Run() waits for the stdout/stderr copies to finish; after a kill,
	// cmd.WaitDelay bounds that wait at 250ms, after which the pipes are
	// closed and whatever was captured stands. A stream that captured
	// nothing at all gets the placeholder in abortedOrCaptured.
	if timedOut {
		stdoutTail, stdoutSha, stdoutBytes := abortedOrCaptured(stdout, "stdout")
		stderrTail, stderrSha, stderrBytes := abortedOrCaptured(stderr, "stderr")
		receipt.StdoutTail, receipt.StdoutSha256, receipt.StdoutBytes = stdoutTail, stdoutSha, stdoutBytes
		receipt.StderrTail, receipt.StderrSha256, receipt.StderrBytes = stderrTail, stderrSha, stderrBytes
		receipt.Success = false
		return receipt
	}

	stdoutTail, stdoutSha, stdoutBytes := stdout.Snapshot()
	stderrTail, stderrSha, stderrBytes := stderr.Snapshot()
	receipt.StdoutTail, receipt.StdoutSha256, receipt.StdoutBytes = stdoutTail, stdoutSha, stdoutBytes
	receipt.StderrTail, receipt.StderrSha256, receipt.StderrBytes = stderrTail, stderrSha, stderrBytes

	if runErr == nil {
		receipt.Success = true
		receipt.ExitCode = intPtr(0)
		return receipt
	}

	var exitErr *exec.ExitError
	if ok := asExitError(runErr, &exitErr); ok {
		code := exitErr.ExitCode()
		receipt.ExitCode = intPtr(code)
		receipt.Success = code == 0
		return receipt
	}

	receipt.Success = false
	return receipt
}

// abortedOrCaptured returns the stream's captured tail, hash and byte
// count, falling back to the placeholder only when the writer never
// received any bytes. It does not wait itself: cmd.Run() has already
// returned, at most 250ms (cmd.WaitDelay) after the kill.
func abortedOrCaptured(w *tailWriter, stream string) (tail, sha string, count int64) {
	tail, sha, count = w.Snapshot()
	if tail == "" && count == 0 {
		return fmt.Sprintf(capturedAbortedPlaceholderFmt, stream), emptyHash, 0
	}
	return tail, sha, count
}

func asExitError(err error, target **exec.ExitError) bool {
	if ee, ok := err.(*exec.ExitError); ok {
		*target = ee
		return true
	}
	return false
}

func intPtr(i int) *int { return &i }
